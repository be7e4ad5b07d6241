// Package server implements Server (§4.9): the TCP listener, the bounded
// worker pool, the bounded request queue, and the per-connection accept
// loop that ties ConnectionFSM to StorageManager.
//
// Grounded on crowdriff-lru's bufpool.go for the buffer-reuse idiom and on
// the pack's general goroutine-per-connection server shape; the worker
// pool itself is built on golang.org/x/sync/semaphore, the same
// cap-concurrent-workers idiom the retrieval pack uses to bound how many
// requests run against StorageManager at once, per §4.9's fixed
// parallelism requirement.
package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/kf6kjg/whip-lru/internal/connfsm"
	"github.com/kf6kjg/whip-lru/internal/metrics"
	"github.com/kf6kjg/whip-lru/internal/protocol"
	"github.com/kf6kjg/whip-lru/internal/storagemgr"
)

// Defaults, per §4.9/§6.
const (
	DefaultPort            = 32700
	DefaultBindAddress     = "0.0.0.0"
	DefaultWorkers         = 4
	DefaultQueueMultiplier = 4
	DefaultGracePeriod     = 100 * time.Millisecond
	DefaultAuthTimeout     = 10 * time.Second
)

// Config configures a Server.
type Config struct {
	// Address is the bind address. The configuration convention of "*"
	// (see internal/config) is resolved to DefaultBindAddress by the
	// caller before reaching here.
	Address string
	Port    int

	Password string

	// Workers is the fixed worker pool size. Zero selects DefaultWorkers.
	Workers int
	// QueueSize bounds the number of requests buffered ahead of the
	// worker pool. Zero selects Workers * DefaultQueueMultiplier.
	QueueSize int

	MaxBodyLen  uint32
	GracePeriod time.Duration
	AuthTimeout time.Duration

	Manager  *storagemgr.Manager
	Recorder metrics.Recorder
	Log      zerolog.Logger
}

type queuedRequest struct {
	ctx    context.Context
	frame  *protocol.Frame
	respCh chan *protocol.Frame
}

// Server owns the TCP listener, worker pool, and bounded request queue
// described by §4.9.
type Server struct {
	cfg Config
	sem *semaphore.Weighted
	log zerolog.Logger

	queue chan *queuedRequest

	mu       sync.Mutex
	listener net.Listener
	closing  chan struct{}
	closed   bool

	activeConns int64

	acceptWG   sync.WaitGroup
	dispatchWG sync.WaitGroup
	inFlightWG sync.WaitGroup
	connWG     sync.WaitGroup
}

// New returns a Server ready to Start. Config defaults are applied here.
func New(cfg Config) *Server {
	if cfg.Address == "" {
		cfg.Address = DefaultBindAddress
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * DefaultQueueMultiplier
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = DefaultAuthTimeout
	}
	if cfg.Recorder == nil {
		cfg.Recorder = noopRecorder{}
	}

	return &Server{
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.Workers)),
		log:     cfg.Log,
		queue:   make(chan *queuedRequest, cfg.QueueSize),
		closing: make(chan struct{}),
	}
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

// Start opens the listener and spins up the worker pool and accept loop. It
// returns once the listener is bound; serving happens in background
// goroutines.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.dispatchWG.Add(1)
	go s.dispatchLoop()

	s.acceptWG.Add(1)
	go s.acceptLoop()

	s.log.Info().Str("addr", addr).Int("workers", s.cfg.Workers).Msg("server: listening")
	return nil
}

func (s *Server) acceptLoop() {
	defer s.acceptWG.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closing:
				return
			default:
				s.log.Error().Err(err).Msg("server: accept failed")
				return
			}
		}
		s.connWG.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(netConn net.Conn) {
	defer s.connWG.Done()
	defer netConn.Close()

	atomic.AddInt64(&s.activeConns, 1)
	s.cfg.Recorder.ConnectionOpened()
	defer func() {
		atomic.AddInt64(&s.activeConns, -1)
		s.cfg.Recorder.ConnectionClosed()
	}()

	c := connfsm.New(netConn, s.cfg.Password, s.cfg.MaxBodyLen, s.log)
	if err := c.Authenticate(s.cfg.AuthTimeout); err != nil {
		if err != connfsm.ErrAuthFailed {
			s.log.Debug().Err(err).Msg("server: auth handshake failed")
		}
		return
	}

	for {
		select {
		case <-s.closing:
			return
		default:
		}

		frame, err := c.ReadRequest()
		if err != nil {
			if err != io.EOF {
				s.log.Debug().Err(err).Msg("server: connection read failed")
			}
			return
		}

		resp := s.dispatch(frame)
		if resp == nil {
			return
		}
		if err := c.WriteResponse(protocol.ResponseCode(resp.Type), resp.ID, resp.Body); err != nil {
			s.log.Debug().Err(err).Msg("server: connection write failed")
			return
		}
	}
}

// dispatch pushes frame onto the bounded queue and blocks for its response,
// giving the worker pool's fixed parallelism and the queue's fixed capacity
// as the system's only two concurrency knobs, per §4.9/§5. A full queue
// blocks here, which blocks the calling connection's read loop, which
// back-propagates as TCP flow control, per §5's back-pressure requirement.
func (s *Server) dispatch(frame *protocol.Frame) *protocol.Frame {
	qr := &queuedRequest{
		ctx:    context.Background(),
		frame:  frame,
		respCh: make(chan *protocol.Frame, 1),
	}

	select {
	case s.queue <- qr:
	case <-s.closing:
		return nil
	}

	select {
	case resp := <-qr.respCh:
		return resp
	case <-s.closing:
		return nil
	}
}

// dispatchLoop pulls queued requests and, for each, blocks on the semaphore
// until one of the Workers concurrency slots is free before handing the
// request to its own goroutine. This keeps at most Workers calls into
// StorageManager in flight at a time — §4.9's "fixed parallelism" — while
// letting a slow request's neighbors on the queue proceed independently
// instead of being serialized behind it by a fixed pool of long-lived
// goroutines.
func (s *Server) dispatchLoop() {
	defer s.dispatchWG.Done()
	for {
		select {
		case qr, ok := <-s.queue:
			if !ok {
				return
			}
			if err := s.sem.Acquire(context.Background(), 1); err != nil {
				return
			}
			s.inFlightWG.Add(1)
			go func() {
				defer s.inFlightWG.Done()
				defer s.sem.Release(1)
				qr.respCh <- s.process(qr.ctx, qr.frame)
			}()
		case <-s.closing:
			return
		}
	}
}

// ActiveConnections returns the current number of accepted connections,
// used by STATUS_GET. A connection is counted from accept, before its auth
// handshake completes.
func (s *Server) ActiveConnections() int64 {
	return atomic.LoadInt64(&s.activeConns)
}

// Stop closes the listener, stops accepting new work, and waits up to
// GracePeriod for in-flight requests and connection goroutines to finish,
// then returns. Stop does not close connections that are still open: such a
// connection's goroutine closes its socket and exits once its client
// disconnects or sends another request.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	close(s.closing)

	done := make(chan struct{})
	go func() {
		s.acceptWG.Wait()
		s.dispatchWG.Wait()
		s.inFlightWG.Wait()
		s.connWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.cfg.GracePeriod):
		s.log.Warn().Dur("grace_period", s.cfg.GracePeriod).Msg("server: grace period elapsed, forcing shutdown")
	}
	return nil
}
