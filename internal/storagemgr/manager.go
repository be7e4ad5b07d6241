// Package storagemgr implements StorageManager (§4.7): the single point of
// coordination between LruIndex, LocalStore, WriteJournal, and a
// RemoteProvider. Every paired index and local-store change is made under
// Manager's mutex (which is never held across a remote call), and every
// background remote PUT runs with a journal slot reserved before the asset
// was written locally, which is what keeps the index, the local store, and
// the journal from disagreeing about what is cached and what is still in
// flight to the upstream.
//
// Grounded on crowdriff-lru's lru.go, which composes its own two-queue index
// with a BoltDB-backed cache and a pluggable Store behind one mutex; this
// package generalizes that shape to a strict LRU index, an explicit
// WriteJournal for crash-durable async PUTs, and the read-through/eviction
// rules §4.7 and §5 specify.
package storagemgr

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/kf6kjg/whip-lru/internal/asset"
	"github.com/kf6kjg/whip-lru/internal/journal"
	"github.com/kf6kjg/whip-lru/internal/lru"
	"github.com/kf6kjg/whip-lru/internal/metrics"
	"github.com/kf6kjg/whip-lru/internal/remote"
	"github.com/kf6kjg/whip-lru/internal/store"
)

// Errors returned by Manager operations, per §4.7.
var (
	ErrNotFound  = errors.New("storagemgr: asset not found")
	ErrDuplicate = errors.New("storagemgr: asset already cached locally")
)

// defaults for the tunables in Config, per §6 and §4.7.
const (
	DefaultReserveTimeout = 60 * time.Second
	DefaultRemoteTimeout  = 30 * time.Second
	DefaultEvictHeadroom  = 3
)

// Config configures a Manager.
type Config struct {
	Store       store.Config
	JournalPath string
	// JournalSlots bounds the number of concurrent in-flight remote PUTs;
	// StoreAsset blocks past this limit until one completes or
	// ReserveTimeout elapses.
	JournalSlots uint32

	Provider remote.Provider
	Recorder metrics.Recorder
	Log      zerolog.Logger

	// ReserveTimeout bounds how long StoreAsset will wait for a free
	// journal slot before failing the request. Zero selects
	// DefaultReserveTimeout.
	ReserveTimeout time.Duration
	// RemoteTimeout bounds each individual attempt against Provider,
	// independent of the backoff schedule between attempts. Zero selects
	// DefaultRemoteTimeout.
	RemoteTimeout time.Duration
	// EvictHeadroom multiplies an incoming asset's size to decide how much
	// extra room to clear on a MapFull eviction round, per §4.7's
	// "evict more than the single asset needs" guidance. Zero selects
	// DefaultEvictHeadroom.
	EvictHeadroom int64
}

// Manager is StorageManager: the coordinator the protocol layer calls into
// for every asset operation.
type Manager struct {
	mu  sync.Mutex
	idx *lru.Index
	ls  *store.LocalStore
	j   *journal.Journal

	provider remote.Provider
	recorder metrics.Recorder
	log      zerolog.Logger

	reserveTimeout time.Duration
	remoteTimeout  time.Duration
	headroom       int64

	journalOccupied int64

	wg sync.WaitGroup
}

// journalSlot adjusts the running count of occupied journal slots by delta
// and reports the new total to recorder. Safe for concurrent callers.
func (m *Manager) journalSlot(delta int64) {
	n := atomic.AddInt64(&m.journalOccupied, delta)
	m.recorder.JournalOccupancy(int(n))
}

type noopRecorder struct{}

func (noopRecorder) Hit()                         {}
func (noopRecorder) Miss()                        {}
func (noopRecorder) Put(int64)                    {}
func (noopRecorder) Evicted(int, int64)           {}
func (noopRecorder) JournalOccupancy(int)         {}
func (noopRecorder) ConnectionOpened()            {}
func (noopRecorder) ConnectionClosed()            {}
func (noopRecorder) ActiveConnectionCount() int64 { return 0 }
func (noopRecorder) HitCount() int64              { return 0 }
func (noopRecorder) MissCount() int64             { return 0 }
func (noopRecorder) JournalOccupancyCount() int64 { return 0 }

// New opens the local store and journal at the configured paths, performs
// startup recovery (§4.7's "Recovery on startup"), and returns a ready
// Manager.
//
// Recovery: the LruIndex is rebuilt from every row LocalStore already holds;
// every journal slot left occupied by an unclean shutdown is retried
// against Provider synchronously, in the foreground, before New returns, so
// that a Manager is never handed to callers with indeterminate pending
// writes.
func New(cfg Config) (*Manager, error) {
	if cfg.Provider == nil {
		cfg.Provider = remote.NoProvider{}
	}
	if cfg.Recorder == nil {
		cfg.Recorder = noopRecorder{}
	}
	if cfg.ReserveTimeout <= 0 {
		cfg.ReserveTimeout = DefaultReserveTimeout
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = DefaultRemoteTimeout
	}
	if cfg.EvictHeadroom <= 0 {
		cfg.EvictHeadroom = DefaultEvictHeadroom
	}

	ls, err := store.Open(cfg.Store)
	if err != nil {
		return nil, errors.Wrap(err, "storagemgr: opening local store")
	}

	j, err := journal.OpenOrCreate(cfg.JournalPath, cfg.JournalSlots)
	if err != nil {
		ls.Close()
		return nil, errors.Wrap(err, "storagemgr: opening write journal")
	}

	pending, err := j.Recover()
	if err != nil {
		ls.Close()
		j.Close()
		return nil, errors.Wrap(err, "storagemgr: recovering write journal")
	}

	scanned, err := ls.ScanIDs()
	if err != nil {
		ls.Close()
		j.Close()
		return nil, errors.Wrap(err, "storagemgr: scanning local store")
	}

	idx := lru.New()
	for _, e := range scanned {
		// ScanIDs has no notion of order, so every row is inserted in
		// whatever the cursor yielded and is treated as already-MRU; see
		// the Open Questions entry on cold-start ordering.
		if err := idx.Insert(e.ID, e.Size); err != nil {
			continue
		}
	}

	m := &Manager{
		idx:            idx,
		ls:             ls,
		j:              j,
		provider:       cfg.Provider,
		recorder:       cfg.Recorder,
		log:            cfg.Log,
		reserveTimeout: cfg.ReserveTimeout,
		remoteTimeout:  cfg.RemoteTimeout,
		headroom:       cfg.EvictHeadroom,
	}

	atomic.StoreInt64(&m.journalOccupied, int64(len(pending)))
	m.recorder.JournalOccupancy(len(pending))

	m.recoverPending(pending)

	return m, nil
}

// recoverPending retries every journal entry left occupied by an unclean
// shutdown. It runs synchronously during New so the Manager starts with no
// indeterminate state.
func (m *Manager) recoverPending(pending []uuid.UUID) {
	for _, id := range pending {
		raw, err := m.ls.Get(id)
		if err != nil {
			// The local write never landed (crash before LocalStore.Put
			// committed); nothing to retry, just reclaim the slot.
			m.releaseSlot(id)
			continue
		}
		a, err := asset.DecodeStorage(raw)
		if err != nil {
			m.log.Error().Err(err).Str("id", asset.ToHex32(id)).Msg("storagemgr: recovered asset failed to decode, dropping journal slot")
			m.releaseSlot(id)
			continue
		}

		m.log.Info().Str("id", asset.ToHex32(id)).Msg("storagemgr: retrying recovered pending remote put")
		err = remote.WithRetry(context.Background(), func(ctx context.Context) error {
			attemptCtx, cancel := context.WithTimeout(ctx, m.remoteTimeout)
			defer cancel()
			return m.provider.Put(attemptCtx, a)
		})
		if err != nil && !errors.Is(err, remote.ErrDuplicate) {
			m.log.Error().Err(err).Str("id", asset.ToHex32(id)).Msg("storagemgr: recovered remote put failed, will retry on next start")
			continue
		}
		m.releaseSlot(id)
	}
}

func (m *Manager) releaseSlot(id uuid.UUID) {
	idx, ok, err := m.j.FindOccupiedSlot(id)
	if err != nil || !ok {
		return
	}
	if err := m.j.Release(idx); err != nil {
		m.log.Error().Err(err).Str("id", asset.ToHex32(id)).Msg("storagemgr: failed to release journal slot during recovery")
		return
	}
	m.journalSlot(-1)
}

// GetAsset returns the asset identified by id. If it is not cached locally,
// GetAsset falls through to the configured Provider; when cacheResult is
// true and the remote fetch succeeds, the asset is also stored locally
// (evicting as needed), per §4.7.
func (m *Manager) GetAsset(ctx context.Context, id uuid.UUID, cacheResult bool) (*asset.Asset, error) {
	m.mu.Lock()
	if m.idx.Contains(id) {
		raw, err := m.ls.Get(id)
		if err == nil {
			m.idx.Touch(id)
			m.mu.Unlock()
			a, decErr := asset.DecodeStorage(raw)
			if decErr != nil {
				return nil, errors.Wrap(decErr, "storagemgr: decoding cached asset")
			}
			m.recorder.Hit()
			return a, nil
		}
		// Index and store disagree; treat as a miss and self-heal the index.
		m.idx.Remove(id)
	}
	m.mu.Unlock()

	m.recorder.Miss()

	attemptCtx, cancel := context.WithTimeout(ctx, m.remoteTimeout)
	a, err := m.provider.Get(attemptCtx, id)
	cancel()
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "storagemgr: fetching from remote provider")
	}

	if cacheResult {
		if err := m.StoreLocal(a); err != nil {
			m.log.Warn().Err(err).Str("id", asset.ToHex32(id)).Msg("storagemgr: failed to cache remotely fetched asset")
		}
	}

	return a, nil
}

// CheckAsset reports whether id is known, either locally or upstream,
// without transferring its data, per §4.7.
func (m *Manager) CheckAsset(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	if m.idx.Contains(id) {
		m.mu.Unlock()
		return true, nil
	}
	m.mu.Unlock()

	attemptCtx, cancel := context.WithTimeout(ctx, m.remoteTimeout)
	defer cancel()
	ok, err := m.provider.Test(attemptCtx, id)
	if err != nil {
		return false, errors.Wrap(err, "storagemgr: testing remote provider")
	}
	return ok, nil
}

// StoreLocal writes a into the local cache only, evicting older entries if
// necessary to make room, per §4.7/§4.4. It does not touch the remote
// provider or the write journal.
func (m *Manager) StoreLocal(a *asset.Asset) error {
	if err := a.Validate(); err != nil {
		return err
	}

	raw, err := asset.EncodeStorage(a)
	if err != nil {
		return errors.Wrap(err, "storagemgr: encoding asset for storage")
	}
	size := int64(len(raw))

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.idx.Contains(a.ID) {
		return ErrDuplicate
	}

	if err := m.ls.Put(a.ID, raw); err != nil {
		switch {
		case errors.Is(err, store.ErrKeyExists):
			// The index and the local store disagreed about this id (the
			// GetAsset self-heal path removes an index entry whose row
			// failed to read, but the row can still be present); reconcile
			// by indexing the row that is actually on disk and report
			// success rather than treating this as a hard write failure.
			if err := m.idx.Insert(a.ID, size); err != nil {
				return errors.Wrap(err, "storagemgr: reconciling index with existing local row")
			}
			return nil
		case errors.Is(err, store.ErrMapFull):
			if evictErr := m.evictForSpace(size * m.headroom); evictErr != nil {
				return errors.Wrap(evictErr, "storagemgr: evicting to make room")
			}
			if err := m.ls.Put(a.ID, raw); err != nil {
				return errors.Wrap(err, "storagemgr: writing to local store after eviction")
			}
		default:
			return errors.Wrap(err, "storagemgr: writing to local store")
		}
	}

	if err := m.idx.Insert(a.ID, size); err != nil {
		// Should be unreachable: Contains just reported false above under
		// the same lock.
		return errors.Wrap(err, "storagemgr: indexing newly stored asset")
	}

	m.recorder.Put(size)
	return nil
}

// evictForSpace removes LRU entries until bytesNeeded bytes have been freed.
// Caller must hold m.mu.
func (m *Manager) evictForSpace(bytesNeeded int64) error {
	removed := m.idx.EvictToFree(bytesNeeded)
	if len(removed) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(removed))
	var freed int64
	for i, e := range removed {
		ids[i] = e.ID
		freed += e.Size
	}
	if err := m.ls.DeleteBatch(ids); err != nil {
		return err
	}
	m.recorder.Evicted(len(removed), freed)
	return nil
}

// StoreAsset stores a locally and, asynchronously, upstream, per §4.7. It
// returns once the local write (and journal reservation for the remote
// write) are durable; ErrDuplicate means a is already locally cached and no
// new remote PUT was started. A remote Duplicate response is treated as
// success, per the specification's resolution of its asset-present-
// remotely-but-not-locally open question.
func (m *Manager) StoreAsset(ctx context.Context, a *asset.Asset) error {
	if err := a.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.idx.Contains(a.ID) {
		m.mu.Unlock()
		return ErrDuplicate
	}
	m.mu.Unlock()

	reserveCtx, cancel := context.WithTimeout(ctx, m.reserveTimeout)
	slot, err := m.j.Reserve(reserveCtx, a.ID)
	cancel()
	if err != nil {
		return errors.Wrap(err, "storagemgr: reserving journal slot")
	}
	m.journalSlot(1)

	if err := m.StoreLocal(a); err != nil {
		if relErr := m.j.Release(slot); relErr == nil {
			m.journalSlot(-1)
		}
		return err
	}

	m.wg.Add(1)
	go m.completeRemotePut(a, slot)

	return nil
}

func (m *Manager) completeRemotePut(a *asset.Asset, slot uint32) {
	defer m.wg.Done()

	err := remote.WithRetry(context.Background(), func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, m.remoteTimeout)
		defer cancel()
		return m.provider.Put(attemptCtx, a)
	})

	if err != nil && !errors.Is(err, remote.ErrDuplicate) {
		m.log.Error().Err(err).Str("id", asset.ToHex32(a.ID)).Msg("storagemgr: remote put failed, asset remains local-only until retried")
		// Leave the slot occupied; a future restart's recovery pass will
		// retry it rather than silently losing the pending write.
		return
	}

	if err := m.j.Release(slot); err != nil {
		m.log.Error().Err(err).Str("id", asset.ToHex32(a.ID)).Msg("storagemgr: failed to release journal slot after remote put")
		return
	}
	m.journalSlot(-1)
}

// PurgeAsset removes id from the local cache and upstream, per §4.7.
func (m *Manager) PurgeAsset(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	_, localErr := m.idx.Remove(id)
	if localErr == nil {
		m.ls.Delete(id)
	}
	m.mu.Unlock()

	attemptCtx, cancel := context.WithTimeout(ctx, m.remoteTimeout)
	remoteErr := m.provider.Purge(attemptCtx, id)
	cancel()

	if localErr != nil && errors.Is(remoteErr, remote.ErrNotFound) {
		return ErrNotFound
	}
	if remoteErr != nil && !errors.Is(remoteErr, remote.ErrNotFound) {
		return errors.Wrap(remoteErr, "storagemgr: purging from remote provider")
	}
	return nil
}

// PurgeAllLocalAssets deletes every cached asset whose Local flag is set, in
// one batched transaction, per §4.7. Assets cached only because a remote GET
// populated them (Local == false) are left untouched.
func (m *Manager) PurgeAllLocalAssets() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var toRemove []uuid.UUID
	for _, id := range m.idx.AllOldestFirst() {
		raw, err := m.ls.Get(id)
		if err != nil {
			continue
		}
		a, err := asset.DecodeStorage(raw)
		if err != nil || a.Local {
			toRemove = append(toRemove, id)
		}
	}

	if err := m.ls.DeleteBatch(toRemove); err != nil {
		return errors.Wrap(err, "storagemgr: clearing local-flagged assets")
	}
	for _, id := range toRemove {
		m.idx.Remove(id)
	}
	return nil
}

// LocallyKnownIDs returns every cached id whose 32-hex form starts with
// hexPrefix (expected 3 hex characters), per §4.7's LocallyKnownIds.
func (m *Manager) LocallyKnownIDs(hexPrefix string) []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idx.ItemsWithPrefix(hexPrefix)
}

// Stats is a point-in-time snapshot used to render the STATUS_GET response
// body.
type Stats struct {
	ItemCount         int
	TotalBytes        int64
	ActiveConnections int64
	Hits              int64
	Misses            int64
	JournalOccupied   int64
}

// Stats returns a snapshot of the cache's current size, hit/miss, and
// journal occupancy counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		ItemCount:         m.idx.Len(),
		TotalBytes:        m.idx.TotalBytes(),
		ActiveConnections: m.recorder.ActiveConnectionCount(),
		Hits:              m.recorder.HitCount(),
		Misses:            m.recorder.MissCount(),
		JournalOccupied:   atomic.LoadInt64(&m.journalOccupied),
	}
}

// Close waits for any in-flight remote PUTs to finish, then closes the
// journal and local store.
func (m *Manager) Close() error {
	m.wg.Wait()
	jErr := m.j.Close()
	lErr := m.ls.Close()
	if jErr != nil {
		return jErr
	}
	return lErr
}
