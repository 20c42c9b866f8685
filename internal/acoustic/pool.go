package acoustic

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"talky/pkg/logger"

	"go.uber.org/zap"
)

// Loader creates the model. It may be slow.
type Loader func(ctx context.Context) (Model, error)

// Pool initializes a Model on first use. Concurrent first callers wait on one
// initialization; later callers read the ready handle without locking. A
// failed load is not cached, so the next caller tries again.
type Pool struct {
	load  Loader
	mu    sync.Mutex
	model atomic.Pointer[handle]
}

type handle struct {
	Model
}

func NewPool(load Loader) *Pool {
	return &Pool{load: load}
}

// Acquire returns the shared model, loading it if needed.
func (p *Pool) Acquire(ctx context.Context) (Model, error) {
	if h := p.model.Load(); h != nil {
		return h.Model, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if h := p.model.Load(); h != nil {
		return h.Model, nil
	}

	m, err := p.load(ctx)
	if err != nil {
		logger.Error("Failed to load acoustic model", zap.Error(err))
		return nil, fmt.Errorf("failed to load acoustic model: %w", err)
	}
	p.model.Store(&handle{Model: m})

	return m, nil
}

// Ready reports whether the model has been loaded.
func (p *Pool) Ready() bool {
	return p.model.Load() != nil
}
