package storagemgr

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/kf6kjg/whip-lru/internal/asset"
	"github.com/kf6kjg/whip-lru/internal/remote"
)

var errInjected = errors.New("fake provider: injected failure")

// fakeProvider is an in-memory remote.Provider for exercising Manager
// without a real upstream.
type fakeProvider struct {
	mu       sync.Mutex
	store    map[uuid.UUID]*asset.Asset
	puts     []uuid.UUID
	failNext int // remaining calls to Put that should return a transient error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{store: make(map[uuid.UUID]*asset.Asset)}
}

func (p *fakeProvider) Get(ctx context.Context, id uuid.UUID) (*asset.Asset, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.store[id]
	if !ok {
		return nil, remote.ErrNotFound
	}
	return a, nil
}

func (p *fakeProvider) Put(ctx context.Context, a *asset.Asset) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.puts = append(p.puts, a.ID)
	if p.failNext > 0 {
		p.failNext--
		return remote.Transient(errInjected)
	}
	if _, ok := p.store[a.ID]; ok {
		return remote.ErrDuplicate
	}
	p.store[a.ID] = a
	return nil
}

func (p *fakeProvider) Purge(ctx context.Context, id uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.store[id]; !ok {
		return remote.ErrNotFound
	}
	delete(p.store, id)
	return nil
}

func (p *fakeProvider) Test(ctx context.Context, id uuid.UUID) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.store[id]
	return ok, nil
}

func (p *fakeProvider) hasPut(id uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, v := range p.puts {
		if v == id {
			return true
		}
	}
	return false
}
