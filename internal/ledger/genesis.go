package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/example/ride-escrow/internal/models"
)

type Alloc struct {
	Address models.Address
	Amount  uint64
}

// ParseGenesis reads "addr=amount,addr=amount". Addresses may use the
// "seed:<label>" development form.
func ParseGenesis(s string) ([]Alloc, error) {
	var out []Alloc
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		addrText, amountText, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("genesis entry %q: want addr=amount", part)
		}
		addr, err := models.ResolveAddress(addrText)
		if err != nil {
			return nil, fmt.Errorf("genesis entry %q: %w", part, err)
		}
		amount, err := strconv.ParseUint(strings.TrimSpace(amountText), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("genesis entry %q: %w", part, err)
		}
		out = append(out, Alloc{Address: addr, Amount: amount})
	}
	return out, nil
}

// ApplyGenesis credits every allocation in one group.
func (l *Ledger) ApplyGenesis(ctx context.Context, allocs []Alloc) error {
	_, err := l.Atomic(ctx, func(tx *Tx) error {
		for _, a := range allocs {
			if err := tx.credit(a.Address, a.Amount); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		l.log.Info("genesis applied", "accounts", len(allocs))
	}
	return err
}
