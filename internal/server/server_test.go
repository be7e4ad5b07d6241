package server

import (
	"bufio"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/kf6kjg/whip-lru/internal/asset"
	"github.com/kf6kjg/whip-lru/internal/protocol"
	"github.com/kf6kjg/whip-lru/internal/storagemgr"
	"github.com/kf6kjg/whip-lru/internal/store"
)

const testPassword = "unittest"

func startTestServer(mapSizeBytes int64) (addr string, mgr *storagemgr.Manager, stop func()) {
	dir, err := os.MkdirTemp("", "whip-lru-server-")
	Ω(err).ShouldNot(HaveOccurred())

	mgr, err = storagemgr.New(storagemgr.Config{
		Store: store.Config{
			Path:         filepath.Join(dir, "cache.db"),
			MapSizeBytes: mapSizeBytes,
		},
		JournalPath:  filepath.Join(dir, "writecache.dat"),
		JournalSlots: 16,
	})
	Ω(err).ShouldNot(HaveOccurred())

	// Bind an ephemeral port by listening once here to learn a free port,
	// then let the real Server.Start take it over.
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	Ω(err).ShouldNot(HaveOccurred())
	port := probe.Addr().(*net.TCPAddr).Port
	Ω(probe.Close()).Should(Succeed())

	srv := New(Config{
		Address:     "127.0.0.1",
		Port:        port,
		Password:    testPassword,
		Manager:     mgr,
		AuthTimeout: 2 * time.Second,
	})
	Ω(srv.Start()).Should(Succeed())

	// Give the listener goroutine a moment to be dial-able.
	Eventually(func() error {
		c, dialErr := net.Dial("tcp", srv.listener.Addr().String())
		if dialErr == nil {
			c.Close()
		}
		return dialErr
	}, time.Second).Should(Succeed())

	return srv.listener.Addr().String(), mgr, func() {
		srv.Stop()
		mgr.Close()
		os.RemoveAll(dir)
	}
}

type testClient struct {
	conn net.Conn
	br   *bufio.Reader
}

func dialAuthenticated(addr, password string) *testClient {
	conn, err := net.Dial("tcp", addr)
	Ω(err).ShouldNot(HaveOccurred())

	br := bufio.NewReader(conn)
	challenge, err := protocol.ReadAuthChallenge(br)
	Ω(err).ShouldNot(HaveOccurred())
	Ω(protocol.WriteAuthResponse(conn, challenge, password)).Should(Succeed())
	ok, err := protocol.ReadAuthStatus(br)
	Ω(err).ShouldNot(HaveOccurred())
	Ω(ok).Should(BeTrue())

	return &testClient{conn: conn, br: br}
}

func (c *testClient) request(typ protocol.RequestType, id uuid.UUID, body []byte) *protocol.Frame {
	Ω(protocol.WriteFrame(c.conn, byte(typ), id, body)).Should(Succeed())
	resp, err := protocol.ReadResponseFrame(c.br, 0)
	Ω(err).ShouldNot(HaveOccurred())
	return resp
}

var _ = Describe("Server end-to-end", func() {
	var (
		addr string
		stop func()
	)

	BeforeEach(func() {
		addr, _, stop = startTestServer(0)
	})

	AfterEach(func() {
		stop()
	})

	It("authenticates then answers STATUS_GET with an ACTIVE substring", func() {
		client := dialAuthenticated(addr, testPassword)
		defer client.conn.Close()

		resp := client.request(protocol.ReqStatusGet, uuid.Nil, nil)
		Ω(resp.Type).Should(Equal(byte(protocol.RCOK)))
		Ω(string(resp.Body)).Should(ContainSubstring("ACTIVE"))
		Ω(string(resp.Body)).Should(ContainSubstring("CACHE_HITS"))
		Ω(string(resp.Body)).Should(ContainSubstring("CACHE_MISSES"))
		Ω(string(resp.Body)).Should(ContainSubstring("JOURNAL_OCCUPIED_SLOTS"))
	})

	It("rejects a zero-UUID GET with RC_ERROR", func() {
		client := dialAuthenticated(addr, testPassword)
		defer client.conn.Close()

		resp := client.request(protocol.ReqGet, uuid.Nil, nil)
		Ω(resp.Type).Should(Equal(byte(protocol.RCError)))
		Ω(string(resp.Body)).Should(ContainSubstring("Zero UUID not allowed."))
	})

	It("rejects a PUT of an already-cached asset with RC_ERROR", func() {
		client := dialAuthenticated(addr, testPassword)
		defer client.conn.Close()

		id := uuid.New()
		a := &asset.Asset{ID: id, Type: 1, CreateTime: 1, Name: "x", Data: []byte("y")}
		wire, err := asset.EncodeWire(a)
		Ω(err).ShouldNot(HaveOccurred())
		Ω(client.request(protocol.ReqPut, id, wire).Type).Should(Equal(byte(protocol.RCOK)))

		dupResp := client.request(protocol.ReqPut, id, wire)
		Ω(dupResp.Type).Should(Equal(byte(protocol.RCError)))
		Ω(string(dupResp.Body)).Should(ContainSubstring("Duplicate assets are not allowed."))
	})

	It("closes the connection on a wrong password", func() {
		conn, err := net.Dial("tcp", addr)
		Ω(err).ShouldNot(HaveOccurred())
		defer conn.Close()

		br := bufio.NewReader(conn)
		challenge, err := protocol.ReadAuthChallenge(br)
		Ω(err).ShouldNot(HaveOccurred())
		Ω(protocol.WriteAuthResponse(conn, challenge, "not-the-password")).Should(Succeed())

		ok, err := protocol.ReadAuthStatus(br)
		Ω(err).ShouldNot(HaveOccurred())
		Ω(ok).Should(BeFalse())
	})

	It("PUTs then GETs the same asset back field-for-field", func() {
		client := dialAuthenticated(addr, testPassword)
		defer client.conn.Close()

		id := uuid.New()
		a := &asset.Asset{
			ID:         id,
			Type:       7,
			CreateTime: 1517000000,
			Name:       "note",
			Data:       []byte{0x31, 0x33, 0x33, 0x37},
		}
		wire, err := asset.EncodeWire(a)
		Ω(err).ShouldNot(HaveOccurred())

		putResp := client.request(protocol.ReqPut, id, wire)
		Ω(putResp.Type).Should(Equal(byte(protocol.RCOK)))

		getResp := client.request(protocol.ReqGet, id, nil)
		Ω(getResp.Type).Should(Equal(byte(protocol.RCFound)))

		got, err := asset.DecodeWire(getResp.Body)
		Ω(err).ShouldNot(HaveOccurred())
		Ω(got.Equal(a)).Should(BeTrue())
	})

	It("PURGEs a stored asset so a following GET reports NOT_FOUND", func() {
		client := dialAuthenticated(addr, testPassword)
		defer client.conn.Close()

		id := uuid.New()
		a := &asset.Asset{ID: id, Type: 1, CreateTime: 1, Name: "x", Data: []byte("y")}
		wire, err := asset.EncodeWire(a)
		Ω(err).ShouldNot(HaveOccurred())
		Ω(client.request(protocol.ReqPut, id, wire).Type).Should(Equal(byte(protocol.RCOK)))

		purgeResp := client.request(protocol.ReqPurge, id, nil)
		Ω(purgeResp.Type).Should(Equal(byte(protocol.RCOK)))

		getResp := client.request(protocol.ReqGet, id, nil)
		Ω(getResp.Type).Should(Equal(byte(protocol.RCNotFound)))
	})

	It("lists stored ids by 3-hex prefix via STORED_ASSET_IDS_GET", func() {
		client := dialAuthenticated(addr, testPassword)
		defer client.conn.Close()

		id := uuid.New()
		a := &asset.Asset{ID: id, Type: 1, CreateTime: 1, Name: "x", Data: []byte("y")}
		wire, err := asset.EncodeWire(a)
		Ω(err).ShouldNot(HaveOccurred())
		Ω(client.request(protocol.ReqPut, id, wire).Type).Should(Equal(byte(protocol.RCOK)))

		prefix := asset.ToHex32(id)[:3]
		var prefixID uuid.UUID
		copy(prefixID[:], mustHexDecode(prefix+strings.Repeat("0", 32-len(prefix))))

		resp := client.request(protocol.ReqStoredAssetIDsGet, prefixID, nil)
		Ω(resp.Type).Should(Equal(byte(protocol.RCOK)))
		Ω(string(resp.Body)).Should(ContainSubstring(asset.ToHex32(id)))
	})
})

var _ = Describe("Server eviction under pressure", func() {
	It("keeps total bytes within budget and evicts the earliest PUT", func() {
		addr, mgr, stop := startTestServer(8 * 4096)
		defer stop()

		client := dialAuthenticated(addr, testPassword)
		defer client.conn.Close()

		var firstID uuid.UUID
		var lastID uuid.UUID
		for i := 0; i < 10; i++ {
			id := uuid.New()
			if i == 0 {
				firstID = id
			}
			lastID = id
			a := &asset.Asset{ID: id, Type: 1, CreateTime: 1, Name: "x", Data: make([]byte, 8*1024)}
			wire, err := asset.EncodeWire(a)
			Ω(err).ShouldNot(HaveOccurred())
			client.request(protocol.ReqPut, id, wire)
		}

		Ω(mgr.Stats().TotalBytes).Should(BeNumerically("<=", 8*4096))

		getFirst := client.request(protocol.ReqGet, firstID, nil)
		Ω(getFirst.Type).Should(Equal(byte(protocol.RCNotFound)))

		getLast := client.request(protocol.ReqGet, lastID, nil)
		Ω(getLast.Type).Should(Equal(byte(protocol.RCFound)))
	})
})

func mustHexDecode(s string) []byte {
	id, err := asset.ParseHex32(s)
	Ω(err).ShouldNot(HaveOccurred())
	return id[:]
}
