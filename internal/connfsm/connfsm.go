// Package connfsm implements ConnectionFSM (§4.8): the per-connection
// Accepted → Challenged → Ready state machine, including the auth handshake
// and the framed request/response loop. Dispatch of a decoded request to
// StorageManager is left to the caller (internal/server), which is what
// lets the worker pool and bounded queue own backpressure while this
// package owns only the wire-level state machine.
package connfsm

import (
	"bufio"
	"errors"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kf6kjg/whip-lru/internal/protocol"
)

// State is one of the connection's lifecycle states.
type State int

// States, per §4.8.
const (
	Accepted State = iota
	Challenged
	Ready
	Closed
)

// ErrAuthFailed indicates the client's AuthResponse did not match.
var ErrAuthFailed = errors.New("connfsm: authentication failed")

// Conn is a single accepted client connection running the ConnectionFSM.
type Conn struct {
	netConn net.Conn
	br      *bufio.Reader
	bw      *bufio.Writer

	password string
	maxBody  uint32

	log   zerolog.Logger
	state State
}

// New wraps netConn in a Conn ready to Authenticate and Serve. password is
// the shared secret from the `Server.Password` config key; maxBody bounds
// accepted request bodies (0 selects protocol.DefaultMaxBodyLen).
func New(netConn net.Conn, password string, maxBody uint32, log zerolog.Logger) *Conn {
	return &Conn{
		netConn:  netConn,
		br:       bufio.NewReader(netConn),
		bw:       bufio.NewWriter(netConn),
		password: password,
		maxBody:  maxBody,
		log:      log,
		state:    Accepted,
	}
}

// State returns the connection's current lifecycle state.
func (c *Conn) State() State { return c.state }

// Authenticate drives Accepted → Challenged → Ready (or Closed on mismatch).
// deadline, if non-zero, bounds how long the client has to respond to the
// challenge.
func (c *Conn) Authenticate(deadline time.Duration) error {
	challenge, err := protocol.GenerateChallenge()
	if err != nil {
		return err
	}
	if err := protocol.WriteAuthChallenge(c.bw, challenge); err != nil {
		return err
	}
	if err := c.bw.Flush(); err != nil {
		return err
	}
	c.state = Challenged

	if deadline > 0 {
		c.netConn.SetReadDeadline(time.Now().Add(deadline))
		defer c.netConn.SetReadDeadline(time.Time{})
	}

	got, err := protocol.ReadAuthResponse(c.br)
	if err != nil {
		return err
	}

	want := protocol.ComputeAuthResponse(challenge, c.password)
	if got != want {
		protocol.WriteAuthStatus(c.bw, false)
		c.bw.Flush()
		c.state = Closed
		return ErrAuthFailed
	}

	if err := protocol.WriteAuthStatus(c.bw, true); err != nil {
		return err
	}
	if err := c.bw.Flush(); err != nil {
		return err
	}
	c.state = Ready
	return nil
}

// ReadRequest blocks until the next request frame arrives. Must only be
// called while State() == Ready.
func (c *Conn) ReadRequest() (*protocol.Frame, error) {
	return protocol.ReadRequestFrame(c.br, c.maxBody)
}

// WriteResponse writes and flushes one response frame.
func (c *Conn) WriteResponse(code protocol.ResponseCode, id uuid.UUID, body []byte) error {
	if err := protocol.WriteFrame(c.bw, byte(code), id, body); err != nil {
		return err
	}
	return c.bw.Flush()
}

// Close marks the connection Closed and closes the underlying socket.
func (c *Conn) Close() error {
	c.state = Closed
	return c.netConn.Close()
}
