package flow

import (
	"context"
	"sync"

	"github.com/openkcm/session-gateway/internal/idp"
)

// Ref is a flow that may not exist yet. Consumers wait on Ready to learn when
// it is set. A Ref is set at most once.
type Ref struct {
	once  sync.Once
	ready chan struct{}
	flow  idp.Flow
}

func NewRef() *Ref {
	return &Ref{ready: make(chan struct{})}
}

// Ready returns a channel closed once the flow is set.
func (r *Ref) Ready() <-chan struct{} {
	return r.ready
}

func (r *Ref) Get() (idp.Flow, bool) {
	select {
	case <-r.ready:
		return r.flow, true
	default:
		return idp.Flow{}, false
	}
}

// Wait blocks until the flow is set or ctx is done.
func (r *Ref) Wait(ctx context.Context) (idp.Flow, error) {
	select {
	case <-r.ready:
		return r.flow, nil
	case <-ctx.Done():
		return idp.Flow{}, ctx.Err()
	}
}

func (r *Ref) set(f idp.Flow) bool {
	set := false
	r.once.Do(func() {
		r.flow = f
		close(r.ready)
		set = true
	})

	return set
}
