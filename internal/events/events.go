// Package events fans committed escrow events out to downstream sinks.
package events

import (
	"context"
	"errors"

	"github.com/example/ride-escrow/internal/models"
)

type Publisher interface {
	Publish(ctx context.Context, e models.Event) error
}

// Multi publishes to every sink and joins their errors. A failing sink
// does not stop the others.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e models.Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
