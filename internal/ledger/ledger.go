// Package ledger is the execution platform the escrow runs on: native
// currency balances, application registry and all-or-nothing transaction
// groups over a box store.
package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/ride-escrow/internal/models"
	"github.com/example/ride-escrow/internal/storage"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid payment amount")
	ErrBalanceOverflow   = errors.New("balance overflow")
	ErrAppNotFound       = errors.New("application not found")
	ErrCorruptState      = errors.New("corrupt ledger state")
)

const (
	prefixAccount = 'a'
	prefixBox     = 'b'
	prefixGlobal  = 'g'
	prefixApp     = 'c'
)

var appCounterKey = []byte("app_counter")

// Ledger runs transaction groups as store transactions, so every group
// observes the fully committed result of the previous one even when several
// processes share the store.
type Ledger struct {
	store storage.Store
	log   *slog.Logger
}

func New(store storage.Store, log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{store: store, log: log}
}

// Atomic runs fn against a staged view of the store. If fn returns an error
// nothing is written; otherwise all staged writes, including balance
// changes, are committed in one store transaction. Stores that resolve
// conflicts optimistically may run fn again, so fn must only act through tx.
// The committed payments are returned in issue order.
func (l *Ledger) Atomic(ctx context.Context, fn func(tx *Tx) error) ([]models.Payment, error) {
	var (
		payments []models.Payment
		staged   bool
	)
	err := l.store.Update(ctx, func(ctx context.Context, r storage.Reader) ([]storage.Op, error) {
		staged = false
		tx := newTx(ctx, r)
		if err := fn(tx); err != nil {
			return nil, err
		}
		payments, staged = tx.payments, true
		return tx.overlay.Ops(), nil
	})
	if err != nil {
		if staged {
			return nil, fmt.Errorf("commit: %w", err)
		}
		return nil, err
	}
	return payments, nil
}

// View runs fn against committed state. Staged writes are discarded.
func (l *Ledger) View(ctx context.Context, fn func(tx *Tx) error) error {
	return l.store.Update(ctx, func(ctx context.Context, r storage.Reader) ([]storage.Op, error) {
		return nil, fn(newTx(ctx, r))
	})
}

func (l *Ledger) Balance(ctx context.Context, addr models.Address) (uint64, error) {
	var bal uint64
	err := l.View(ctx, func(tx *Tx) error {
		var err error
		bal, err = tx.Balance(addr)
		return err
	})
	return bal, err
}

// Transfer submits a plain payment outside any application call.
func (l *Ledger) Transfer(ctx context.Context, p models.Payment) error {
	if p.Amount == 0 {
		return ErrInvalidAmount
	}
	_, err := l.Atomic(ctx, func(tx *Tx) error { return tx.Pay(p) })
	if err == nil {
		l.log.Info("transfer", "from", p.Sender.String(), "to", p.Receiver.String(), "amount", p.Amount)
	}
	return err
}

// Mint credits new funds to an account. Only used for genesis allocations
// and tests; it bypasses conservation by definition.
func (l *Ledger) Mint(ctx context.Context, to models.Address, amount uint64) error {
	_, err := l.Atomic(ctx, func(tx *Tx) error { return tx.credit(to, amount) })
	return err
}

// Tx is the staged view handed to one transaction group.
type Tx struct {
	ctx      context.Context
	overlay  *storage.Overlay
	payments []models.Payment
}

func newTx(ctx context.Context, r storage.Reader) *Tx {
	return &Tx{ctx: ctx, overlay: storage.NewOverlay(r)}
}

func (tx *Tx) Balance(addr models.Address) (uint64, error) {
	return tx.getUint(accountKey(addr))
}

// Pay moves funds between accounts inside the group. Zero-amount payments
// are accepted and leave no trace.
func (tx *Tx) Pay(p models.Payment) error {
	if p.Amount == 0 {
		return nil
	}
	bal, err := tx.Balance(p.Sender)
	if err != nil {
		return err
	}
	if bal < p.Amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientFunds, p.Sender, bal, p.Amount)
	}
	tx.putUint(accountKey(p.Sender), bal-p.Amount)
	if err := tx.credit(p.Receiver, p.Amount); err != nil {
		return err
	}
	tx.payments = append(tx.payments, p)
	return nil
}

func (tx *Tx) credit(to models.Address, amount uint64) error {
	bal, err := tx.Balance(to)
	if err != nil {
		return err
	}
	if bal+amount < bal {
		return fmt.Errorf("%w: %s", ErrBalanceOverflow, to)
	}
	tx.putUint(accountKey(to), bal+amount)
	return nil
}

// CreateApp registers a new application owned by creator and returns its id.
// Ids start at 1.
func (tx *Tx) CreateApp(creator models.Address) (uint64, error) {
	n, err := tx.getUint(appCounterKey)
	if err != nil {
		return 0, err
	}
	n++
	tx.putUint(appCounterKey, n)
	tx.overlay.Put(appKey(n), creator[:])
	return n, nil
}

// App scopes the group to one application's boxes, global state and escrow
// account. It fails with ErrAppNotFound for unknown ids.
func (tx *Tx) App(appID uint64) (*AppTx, error) {
	creator, ok, err := tx.overlay.Get(tx.ctx, appKey(appID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrAppNotFound, appID)
	}
	if len(creator) != len(models.Address{}) {
		return nil, fmt.Errorf("%w: app %d creator record is %d bytes", ErrCorruptState, appID, len(creator))
	}
	a := &AppTx{tx: tx, id: appID, address: models.AppAddress(appID)}
	copy(a.creator[:], creator)
	return a, nil
}

func (tx *Tx) getUint(key []byte) (uint64, error) {
	v, ok, err := tx.overlay.Get(tx.ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	if len(v) != 8 {
		return 0, fmt.Errorf("%w: key %x holds %d bytes", ErrCorruptState, key, len(v))
	}
	return binary.BigEndian.Uint64(v), nil
}

func (tx *Tx) putUint(key []byte, v uint64) {
	tx.overlay.Put(key, binary.BigEndian.AppendUint64(nil, v))
}

func accountKey(addr models.Address) []byte {
	k := make([]byte, 0, 1+len(addr))
	k = append(k, prefixAccount)
	return append(k, addr[:]...)
}

func appKey(appID uint64) []byte {
	return binary.BigEndian.AppendUint64([]byte{prefixApp}, appID)
}

func scopedKey(prefix byte, appID uint64, name []byte) []byte {
	k := make([]byte, 0, 9+len(name))
	k = append(k, prefix)
	k = binary.BigEndian.AppendUint64(k, appID)
	return append(k, name...)
}
