package ledger

import (
	"github.com/example/ride-escrow/internal/models"
)

// AppTx is a Tx restricted to a single application.
type AppTx struct {
	tx      *Tx
	id      uint64
	address models.Address
	creator models.Address
}

func (a *AppTx) ID() uint64 { return a.id }
func (a *AppTx) Address() models.Address { return a.address }
func (a *AppTx) Creator() models.Address { return a.creator }
func (a *AppTx) Balance() (uint64, error) { return a.tx.Balance(a.address) }

func (a *AppTx) BoxGet(name []byte) ([]byte, bool, error) {
	return a.tx.overlay.Get(a.tx.ctx, scopedKey(prefixBox, a.id, name))
}

func (a *AppTx) BoxPut(name, value []byte) {
	a.tx.overlay.Put(scopedKey(prefixBox, a.id, name), value)
}

func (a *AppTx) BoxDelete(name []byte) {
	a.tx.overlay.Delete(scopedKey(prefixBox, a.id, name))
}

// GlobalUint reads an integer global; unset globals read as zero.
func (a *AppTx) GlobalUint(name string) (uint64, error) {
	return a.tx.getUint(scopedKey(prefixGlobal, a.id, []byte(name)))
}

func (a *AppTx) SetGlobalUint(name string, v uint64) {
	a.tx.putUint(scopedKey(prefixGlobal, a.id, []byte(name)), v)
}

// Pay issues an outbound payment from the application's escrow account.
func (a *AppTx) Pay(to models.Address, amount uint64) error {
	return a.tx.Pay(models.Payment{Sender: a.address, Receiver: to, Amount: amount})
}
