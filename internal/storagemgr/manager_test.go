package storagemgr

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/kf6kjg/whip-lru/internal/asset"
	"github.com/kf6kjg/whip-lru/internal/journal"
	"github.com/kf6kjg/whip-lru/internal/store"
)

func tempDir() string {
	dir, err := os.MkdirTemp("", "whip-lru-storagemgr-")
	Ω(err).ShouldNot(HaveOccurred())
	return dir
}

func testAsset(id uuid.UUID, data []byte) *asset.Asset {
	return &asset.Asset{
		ID:         id,
		Type:       1,
		Local:      true,
		CreateTime: 1700000000,
		Name:       "test.dat",
		Data:       data,
	}
}

func newTestManager(dir string, provider *fakeProvider, mapSize int64) *Manager {
	m, err := New(Config{
		Store: store.Config{
			Path:         filepath.Join(dir, "cache.db"),
			MapSizeBytes: mapSize,
		},
		JournalPath:    filepath.Join(dir, "writecache.dat"),
		JournalSlots:   8,
		Provider:       provider,
		ReserveTimeout: time.Second,
		RemoteTimeout:  time.Second,
	})
	Ω(err).ShouldNot(HaveOccurred())
	return m
}

var _ = Describe("Manager", func() {
	var (
		dir      string
		provider *fakeProvider
		mgr      *Manager
	)

	BeforeEach(func() {
		dir = tempDir()
		provider = newFakeProvider()
		mgr = newTestManager(dir, provider, 0)
	})

	AfterEach(func() {
		mgr.Close()
		os.RemoveAll(dir)
	})

	It("stores and retrieves an asset locally", func() {
		id := uuid.New()
		a := testAsset(id, []byte("hello world"))

		Ω(mgr.StoreAsset(context.Background(), a)).Should(Succeed())

		got, err := mgr.GetAsset(context.Background(), id, false)
		Ω(err).ShouldNot(HaveOccurred())
		Ω(got.Equal(a)).Should(BeTrue())

		Eventually(func() bool { return provider.hasPut(id) }).Should(BeTrue())
	})

	It("rejects storing the same id twice", func() {
		id := uuid.New()
		a := testAsset(id, []byte("data"))
		Ω(mgr.StoreAsset(context.Background(), a)).Should(Succeed())
		err := mgr.StoreAsset(context.Background(), a)
		Ω(err).Should(Equal(ErrDuplicate))
	})

	It("tracks journal occupancy across reserve and release", func() {
		id := uuid.New()
		a := testAsset(id, []byte("journal tracked"))

		Ω(mgr.Stats().JournalOccupied).Should(Equal(int64(0)))
		Ω(mgr.StoreAsset(context.Background(), a)).Should(Succeed())
		Ω(mgr.Stats().JournalOccupied).Should(Equal(int64(1)))

		Eventually(func() bool { return provider.hasPut(id) }).Should(BeTrue())
		Eventually(func() int64 { return mgr.Stats().JournalOccupied }).Should(Equal(int64(0)))
	})

	It("reconciles an index/store desync instead of erroring on StoreLocal", func() {
		id := uuid.New()
		a := testAsset(id, []byte("desynced"))
		Ω(mgr.StoreLocal(a)).Should(Succeed())

		// Simulate the GetAsset self-heal path dropping the index entry
		// while the row is still present on disk.
		_, err := mgr.idx.Remove(id)
		Ω(err).ShouldNot(HaveOccurred())

		Ω(mgr.StoreLocal(a)).Should(Succeed())
		ok, err := mgr.CheckAsset(context.Background(), id)
		Ω(err).ShouldNot(HaveOccurred())
		Ω(ok).Should(BeTrue())
	})

	It("falls through to the remote provider on a local miss", func() {
		id := uuid.New()
		a := testAsset(id, []byte("remote data"))
		Ω(provider.Put(context.Background(), a)).Should(Succeed())

		got, err := mgr.GetAsset(context.Background(), id, true)
		Ω(err).ShouldNot(HaveOccurred())
		Ω(got.Equal(a)).Should(BeTrue())

		// cacheResult was true: the fetched asset is now indexed locally, and
		// neither caching it nor a second get issues a remote PUT.
		Ω(mgr.idx.Contains(id)).Should(BeTrue())
		putsBefore := len(provider.puts)
		_, err = mgr.GetAsset(context.Background(), id, true)
		Ω(err).ShouldNot(HaveOccurred())
		Ω(len(provider.puts)).Should(Equal(putsBefore))
	})

	It("returns ErrNotFound when absent everywhere", func() {
		_, err := mgr.GetAsset(context.Background(), uuid.New(), false)
		Ω(err).Should(Equal(ErrNotFound))
	})

	It("reports CheckAsset true only when known locally or remotely", func() {
		localID := uuid.New()
		Ω(mgr.StoreLocal(testAsset(localID, []byte("x")))).Should(Succeed())
		ok, err := mgr.CheckAsset(context.Background(), localID)
		Ω(err).ShouldNot(HaveOccurred())
		Ω(ok).Should(BeTrue())

		unknownID := uuid.New()
		ok, err = mgr.CheckAsset(context.Background(), unknownID)
		Ω(err).ShouldNot(HaveOccurred())
		Ω(ok).Should(BeFalse())
	})

	It("purges a locally and remotely known asset", func() {
		id := uuid.New()
		a := testAsset(id, []byte("purge me"))
		Ω(mgr.StoreAsset(context.Background(), a)).Should(Succeed())
		Eventually(func() bool { return provider.hasPut(id) }).Should(BeTrue())

		Ω(mgr.PurgeAsset(context.Background(), id)).Should(Succeed())

		_, err := mgr.GetAsset(context.Background(), id, false)
		Ω(err).Should(Equal(ErrNotFound))
	})

	It("clears every local asset without touching the remote", func() {
		ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
		for _, id := range ids {
			Ω(mgr.StoreLocal(testAsset(id, []byte("payload")))).Should(Succeed())
		}

		Ω(mgr.PurgeAllLocalAssets()).Should(Succeed())

		for _, id := range ids {
			_, err := mgr.GetAsset(context.Background(), id, false)
			Ω(err).Should(Equal(ErrNotFound))
		}
	})

	It("lists locally known ids by 3-hex prefix", func() {
		id := uuid.New()
		Ω(mgr.StoreLocal(testAsset(id, []byte("x")))).Should(Succeed())

		prefix := asset.ToHex32(id)[:3]
		ids := mgr.LocallyKnownIDs(prefix)
		Ω(ids).Should(ContainElement(id))
	})
})

var _ = Describe("Manager eviction", func() {
	It("evicts the least recently used entry to make room under a tight budget", func() {
		dir := tempDir()
		defer os.RemoveAll(dir)
		provider := newFakeProvider()

		payload := make([]byte, 64)
		// Budget fits roughly one encoded asset; a second distinct asset
		// forces an eviction round.
		mgr := newTestManager(dir, provider, 300)
		defer mgr.Close()

		oldID := uuid.New()
		Ω(mgr.StoreLocal(testAsset(oldID, payload))).Should(Succeed())

		newID := uuid.New()
		Ω(mgr.StoreLocal(testAsset(newID, payload))).Should(Succeed())

		_, err := mgr.GetAsset(context.Background(), oldID, false)
		Ω(err).Should(Equal(ErrNotFound))

		got, err := mgr.GetAsset(context.Background(), newID, false)
		Ω(err).ShouldNot(HaveOccurred())
		Ω(got.ID).Should(Equal(newID))
	})
})

var _ = Describe("Manager recovery", func() {
	It("retries a pending remote put left behind by an unclean shutdown", func() {
		dir := tempDir()
		defer os.RemoveAll(dir)

		storeCfg := store.Config{Path: filepath.Join(dir, "cache.db")}
		journalPath := filepath.Join(dir, "writecache.dat")

		id := uuid.New()
		a := testAsset(id, []byte("crash recovery payload"))
		raw, err := asset.EncodeStorage(a)
		Ω(err).ShouldNot(HaveOccurred())

		ls, err := store.Open(storeCfg)
		Ω(err).ShouldNot(HaveOccurred())
		Ω(ls.Put(id, raw)).Should(Succeed())
		Ω(ls.Close()).Should(Succeed())

		j, err := journal.OpenOrCreate(journalPath, 4)
		Ω(err).ShouldNot(HaveOccurred())
		_, err = j.Recover()
		Ω(err).ShouldNot(HaveOccurred())
		_, err = j.Reserve(context.Background(), id)
		Ω(err).ShouldNot(HaveOccurred())
		Ω(j.Close()).Should(Succeed())

		provider := newFakeProvider()
		mgr, err := New(Config{
			Store:          storeCfg,
			JournalPath:    journalPath,
			JournalSlots:   4,
			Provider:       provider,
			ReserveTimeout: time.Second,
			RemoteTimeout:  time.Second,
		})
		Ω(err).ShouldNot(HaveOccurred())

		Ω(provider.hasPut(id)).Should(BeTrue())
		Ω(mgr.Close()).Should(Succeed())

		j2, err := journal.OpenOrCreate(journalPath, 4)
		Ω(err).ShouldNot(HaveOccurred())
		defer j2.Close()
		pending, err := j2.Recover()
		Ω(err).ShouldNot(HaveOccurred())
		Ω(pending).Should(BeEmpty())
	})
})
