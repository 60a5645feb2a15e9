package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-escrow/internal/models"
	"github.com/example/ride-escrow/internal/storage"
)

var (
	alice = models.AddressFromSeed("alice")
	bob   = models.AddressFromSeed("bob")
	carol = models.AddressFromSeed("carol")
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	return New(storage.NewMemoryStore(), nil)
}

func TestTransfer_MovesFunds(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	require.NoError(t, l.Mint(ctx, alice, 500))

	require.NoError(t, l.Transfer(ctx, models.Payment{Sender: alice, Receiver: bob, Amount: 200}))

	a, err := l.Balance(ctx, alice)
	require.NoError(t, err)
	b, err := l.Balance(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), a)
	assert.Equal(t, uint64(200), b)
}

func TestTransfer_Rejections(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	require.NoError(t, l.Mint(ctx, alice, 100))

	err := l.Transfer(ctx, models.Payment{Sender: alice, Receiver: bob, Amount: 101})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	err = l.Transfer(ctx, models.Payment{Sender: alice, Receiver: bob, Amount: 0})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	a, _ := l.Balance(ctx, alice)
	assert.Equal(t, uint64(100), a)
}

func TestAtomic_FailedGroupLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	require.NoError(t, l.Mint(ctx, alice, 1_000))

	boom := errors.New("boom")
	payments, err := l.Atomic(ctx, func(tx *Tx) error {
		if err := tx.Pay(models.Payment{Sender: alice, Receiver: bob, Amount: 400}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, payments)

	a, _ := l.Balance(ctx, alice)
	b, _ := l.Balance(ctx, bob)
	assert.Equal(t, uint64(1_000), a)
	assert.Equal(t, uint64(0), b)
}

func TestAtomic_ReturnsPaymentsInOrder(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	require.NoError(t, l.Mint(ctx, alice, 1_000))

	payments, err := l.Atomic(ctx, func(tx *Tx) error {
		if err := tx.Pay(models.Payment{Sender: alice, Receiver: bob, Amount: 10}); err != nil {
			return err
		}
		if err := tx.Pay(models.Payment{Sender: alice, Receiver: bob, Amount: 0}); err != nil {
			return err
		}
		return tx.Pay(models.Payment{Sender: bob, Receiver: alice, Amount: 4})
	})
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, uint64(10), payments[0].Amount)
	assert.Equal(t, bob, payments[1].Sender)
}

func TestApps_ScopeBoxesAndGlobals(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	var first, second uint64
	_, err := l.Atomic(ctx, func(tx *Tx) error {
		var err error
		if first, err = tx.CreateApp(alice); err != nil {
			return err
		}
		second, err = tx.CreateApp(bob)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first)
	assert.Equal(t, uint64(2), second)

	_, err = l.Atomic(ctx, func(tx *Tx) error {
		a, err := tx.App(first)
		if err != nil {
			return err
		}
		a.BoxPut([]byte("k"), []byte("one"))
		a.SetGlobalUint("n", 7)
		return nil
	})
	require.NoError(t, err)

	err = l.View(ctx, func(tx *Tx) error {
		a, err := tx.App(first)
		require.NoError(t, err)
		assert.Equal(t, alice, a.Creator())
		assert.Equal(t, models.AppAddress(first), a.Address())
		v, ok, err := a.BoxGet([]byte("k"))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte("one"), v)
		n, err := a.GlobalUint("n")
		require.NoError(t, err)
		assert.Equal(t, uint64(7), n)

		b, err := tx.App(second)
		require.NoError(t, err)
		_, ok, err = b.BoxGet([]byte("k"))
		require.NoError(t, err)
		assert.False(t, ok, "boxes must not leak across apps")

		_, err = tx.App(99)
		assert.ErrorIs(t, err, ErrAppNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestAppPay_DebitsEscrowAccount(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	var id uint64
	_, err := l.Atomic(ctx, func(tx *Tx) error {
		var err error
		id, err = tx.CreateApp(alice)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, l.Mint(ctx, models.AppAddress(id), 50))

	_, err = l.Atomic(ctx, func(tx *Tx) error {
		a, err := tx.App(id)
		if err != nil {
			return err
		}
		return a.Pay(bob, 60)
	})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = l.Atomic(ctx, func(tx *Tx) error {
		a, err := tx.App(id)
		if err != nil {
			return err
		}
		return a.Pay(bob, 50)
	})
	require.NoError(t, err)
	b, _ := l.Balance(ctx, bob)
	assert.Equal(t, uint64(50), b)
}

func TestGenesis(t *testing.T) {
	ctx := context.Background()
	allocs, err := ParseGenesis("seed:alice=100, " + bob.String() + "=250,")
	require.NoError(t, err)
	require.Len(t, allocs, 2)
	assert.Equal(t, Alloc{Address: alice, Amount: 100}, allocs[0])

	l := newLedger(t)
	require.NoError(t, l.ApplyGenesis(ctx, allocs))
	b, _ := l.Balance(ctx, bob)
	assert.Equal(t, uint64(250), b)

	_, err = ParseGenesis("seed:alice")
	assert.Error(t, err)
	_, err = ParseGenesis("seed:alice=-1")
	assert.Error(t, err)
}

func TestAtomic_LedgersSharingAStoreDoNotLoseWrites(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	l1, l2 := New(store, nil), New(store, nil)
	require.NoError(t, l1.Mint(ctx, alice, 100))

	competing := make(chan error, 1)
	_, err := l1.Atomic(ctx, func(tx *Tx) error {
		go func() {
			competing <- l2.Transfer(ctx, models.Payment{Sender: alice, Receiver: carol, Amount: 60})
		}()
		time.Sleep(20 * time.Millisecond)
		return tx.Pay(models.Payment{Sender: alice, Receiver: bob, Amount: 60})
	})
	require.NoError(t, err)
	assert.ErrorIs(t, <-competing, ErrInsufficientFunds)

	a, _ := l2.Balance(ctx, alice)
	b, _ := l2.Balance(ctx, bob)
	c, _ := l2.Balance(ctx, carol)
	assert.Equal(t, uint64(40), a)
	assert.Equal(t, uint64(60), b)
	assert.Equal(t, uint64(0), c)
}

func TestTransfer_ConcurrentLedgersConserveFunds(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	ledgers := []*Ledger{New(store, nil), New(store, nil)}
	require.NoError(t, ledgers[0].Mint(ctx, alice, 100))

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		oks int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			to := bob
			if i%2 == 1 {
				to = carol
			}
			if err := ledgers[i%2].Transfer(ctx, models.Payment{Sender: alice, Receiver: to, Amount: 1}); err == nil {
				mu.Lock()
				oks++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	a, _ := ledgers[0].Balance(ctx, alice)
	b, _ := ledgers[1].Balance(ctx, bob)
	c, _ := ledgers[1].Balance(ctx, carol)
	assert.Equal(t, 100, oks)
	assert.Equal(t, uint64(0), a)
	assert.Equal(t, uint64(100), b+c)
}
