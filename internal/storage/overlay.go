package storage

import "context"

// Overlay stages writes on top of a Reader. Reads observe staged writes;
// nothing reaches the underlying store until Ops are applied.
type Overlay struct {
	base  Reader
	dirty map[string]*Op
	order []string
}

func NewOverlay(base Reader) *Overlay {
	return &Overlay{base: base, dirty: make(map[string]*Op)}
}

func (o *Overlay) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if op, ok := o.dirty[string(key)]; ok {
		if op.Delete {
			return nil, false, nil
		}
		return clone(op.Value), true, nil
	}
	return o.base.Get(ctx, key)
}

func (o *Overlay) Put(key, value []byte) {
	o.stage(Op{Key: clone(key), Value: clone(value)})
}

func (o *Overlay) Delete(key []byte) {
	o.stage(Op{Key: clone(key), Delete: true})
}

func (o *Overlay) stage(op Op) {
	k := string(op.Key)
	if _, ok := o.dirty[k]; !ok {
		o.order = append(o.order, k)
	}
	o.dirty[k] = &op
}

// Ops returns the final staged state of every touched key in first-touch order.
func (o *Overlay) Ops() []Op {
	out := make([]Op, 0, len(o.order))
	for _, k := range o.order {
		out = append(out, *o.dirty[k])
	}
	return out
}

func (o *Overlay) Len() int { return len(o.order) }
