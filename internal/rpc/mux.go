package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/nodectl/internal/broadcast"
	logs "github.com/danmuck/nodectl/internal/logging"
	"github.com/danmuck/nodectl/internal/observability"
	"github.com/google/uuid"
)

type Config struct {
	// RequestTimeout applies to calls issued without an explicit deadline.
	RequestTimeout time.Duration
	// NotificationBuffer bounds each client's queue of notifications.
	NotificationBuffer int
	// WriteBuffer bounds frames queued for the writer.
	WriteBuffer int
}

func DefaultConfig() Config {
	return Config{
		RequestTimeout:     30 * time.Second,
		NotificationBuffer: 64,
		WriteBuffer:        64,
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.NotificationBuffer <= 0 {
		c.NotificationBuffer = d.NotificationBuffer
	}
	if c.WriteBuffer <= 0 {
		c.WriteBuffer = d.WriteBuffer
	}
	return c
}

// NewClientID returns a fresh identifier for Register.
func NewClientID() string {
	return uuid.NewString()
}

// Mux shares one node connection between registered clients.
type Mux struct {
	cfg    Config
	nextID atomic.Uint64

	outbound chan frame

	mu       sync.Mutex
	conn     io.ReadWriteCloser
	pending  map[uint64]*Call
	clients  map[string]*Client
	closed   bool
	closeErr error
	done     chan struct{}

	notifications *broadcast.Broadcaster[Message]
}

func NewMux(cfg Config) *Mux {
	return &Mux{
		cfg:           cfg.WithDefaults(),
		pending:       make(map[uint64]*Call),
		clients:       make(map[string]*Client),
		done:          make(chan struct{}),
		notifications: broadcast.New[Message](),
	}
}

// frame is one encoded request waiting for the writer.
type frame struct {
	call     *Call
	payload  []byte
	deadline time.Time
}

// writeDeadliner is implemented by net.Conn.
type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Attach binds the mux to conn and starts reading responses from it.
func (m *Mux) Attach(conn io.ReadWriteCloser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrConnectionClosed
	}
	if m.conn != nil {
		return ErrAlreadyAttached
	}
	m.conn = conn
	m.outbound = make(chan frame, m.cfg.WriteBuffer)
	go m.readLoop(conn)
	go m.writeLoop(conn, m.outbound)
	logs.Infof("rpc.Mux.Attach started reader and writer")
	return nil
}

// Done is closed once the connection is lost or the mux is closed.
func (m *Mux) Done() <-chan struct{} {
	return m.done
}

// Err returns why the mux stopped, or nil while it is live.
func (m *Mux) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeErr
}

// Close closes the connection; every pending call fails with ErrCancelled.
func (m *Mux) Close() error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	var err error
	if conn != nil {
		err = conn.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	}
	m.shutdown(ErrConnectionClosed)
	return err
}

// Register adds a client. An empty id gets a fresh one.
func (m *Mux) Register(clientID string) (*Client, error) {
	if clientID == "" {
		clientID = NewClientID()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrConnectionClosed
	}
	if _, ok := m.clients[clientID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateClient, clientID)
	}
	sub, err := m.notifications.Subscribe(m.cfg.NotificationBuffer)
	if err != nil {
		return nil, ErrConnectionClosed
	}
	c := &Client{id: clientID, mux: m, sub: sub}
	m.clients[clientID] = c
	logs.Debugf("rpc.Mux.Register client=%s", clientID)
	return c, nil
}

// Clients returns the ids of registered clients.
func (m *Mux) Clients() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	return ids
}

// Pending returns the number of calls awaiting a response.
func (m *Mux) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Mux) unregister(c *Client) {
	m.mu.Lock()
	if m.clients[c.id] == c {
		delete(m.clients, c.id)
	}
	var owned []*Call
	for id, call := range m.pending {
		if call.client == c {
			delete(m.pending, id)
			owned = append(owned, call)
		}
	}
	observability.SetRPCPending(len(m.pending))
	m.mu.Unlock()

	m.notifications.Unsubscribe(c.sub)
	for _, call := range owned {
		call.finish(nil, fmt.Errorf("%w: client %s closed", ErrCancelled, c.id))
	}
}

func (m *Mux) send(c *Client, req Message, deadline time.Time) (*Call, error) {
	if req.Method == "" {
		return nil, fmt.Errorf("%w: missing method", ErrInvalidRequest)
	}
	if deadline.IsZero() {
		deadline = time.Now().Add(m.cfg.RequestTimeout)
	}

	id := m.nextID.Add(1)
	out := req
	out.JSONRPC = Version
	out.ID = encodeID(id)
	out.Result = nil
	out.Error = nil
	payload, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	payload = append(payload, '\n')

	call := &Call{
		Request: req,
		id:      id,
		client:  c,
		started: time.Now(),
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrCancelled, m.closeErr)
	}
	if m.conn == nil {
		m.mu.Unlock()
		return nil, ErrNotAttached
	}
	outbound := m.outbound
	if err := c.enqueue(call); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.pending[id] = call
	observability.SetRPCPending(len(m.pending))
	call.timer = time.AfterFunc(time.Until(deadline), func() { m.expire(id) })
	m.mu.Unlock()

	// A full writer queue holds the caller at most until the call deadline;
	// the expire timer settles the call in that case.
	wait := time.NewTimer(time.Until(deadline))
	defer wait.Stop()
	select {
	case outbound <- frame{call: call, payload: payload, deadline: deadline}:
	case <-wait.C:
		logs.Warnf("rpc.Mux.send writer queue full client=%s method=%s", c.id, req.Method)
	case <-m.done:
	}
	return call, nil
}

// writeLoop is the only writer on conn. Each frame is written under its
// call's deadline when conn supports write deadlines; frames whose call has
// already settled are skipped.
func (m *Mux) writeLoop(conn io.ReadWriteCloser, outbound <-chan frame) {
	deadliner, _ := conn.(writeDeadliner)
	for {
		var f frame
		select {
		case <-m.done:
			return
		case f = <-outbound:
		}
		if !m.isPending(f.call.id) {
			continue
		}
		if deadliner != nil {
			_ = deadliner.SetWriteDeadline(f.deadline)
		}
		n, err := conn.Write(f.payload)
		if err == nil {
			continue
		}
		if n == 0 && errors.Is(err, os.ErrDeadlineExceeded) {
			logs.Warnf("rpc.Mux.writeLoop write stalled client=%s method=%s", f.call.client.id, f.call.Request.Method)
			m.expire(f.call.id)
			continue
		}
		// A partial or failed write leaves the stream unusable.
		logs.Warnf("rpc.Mux.writeLoop write failed client=%s method=%s wrote=%d err=%v", f.call.client.id, f.call.Request.Method, n, err)
		cause := fmt.Errorf("%w: write: %v", ErrConnectionClosed, err)
		if taken := m.take(f.call.id); taken != nil {
			taken.finish(nil, fmt.Errorf("%w: write: %v", ErrCancelled, err))
		}
		if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			logs.Debugf("rpc.Mux.writeLoop close err=%v", cerr)
		}
		m.shutdown(cause)
		return
	}
}

func (m *Mux) isPending(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[id]
	return ok
}

func (m *Mux) take(id uint64) *Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	call, ok := m.pending[id]
	if !ok {
		return nil
	}
	delete(m.pending, id)
	observability.SetRPCPending(len(m.pending))
	return call
}

func (m *Mux) expire(id uint64) {
	call := m.take(id)
	if call == nil {
		return
	}
	logs.Warnf("rpc.Mux.expire client=%s method=%s id=%d", call.client.id, call.Request.Method, id)
	call.finish(nil, fmt.Errorf("%w: %s", ErrRequestTimeout, call.Request.Method))
}

func (m *Mux) readLoop(conn io.Reader) {
	dec := json.NewDecoder(conn)
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				m.shutdown(ErrConnectionClosed)
			} else {
				m.shutdown(fmt.Errorf("%w: %v", ErrConnectionClosed, err))
			}
			return
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 && raw[0] == '[' {
			var batch []Message
			if err := json.Unmarshal(raw, &batch); err != nil {
				logs.Warnf("rpc.Mux.readLoop bad batch err=%v", err)
				continue
			}
			for _, msg := range batch {
				m.route(msg)
			}
			continue
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			logs.Warnf("rpc.Mux.readLoop bad frame err=%v", err)
			continue
		}
		m.route(msg)
	}
}

func (m *Mux) route(msg Message) {
	if msg.IsNotification() {
		m.notifications.Publish(msg)
		return
	}
	id, ok := decodeID(msg.ID)
	if !ok {
		logs.Warnf("rpc.Mux.route foreign id=%s", string(msg.ID))
		return
	}
	call := m.take(id)
	if call == nil {
		logs.Debugf("rpc.Mux.route dropped late response id=%d", id)
		return
	}
	resp := msg
	resp.ID = call.Request.ID
	call.finish(&resp, nil)
}

func (m *Mux) shutdown(cause error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.closeErr = cause
	calls := make([]*Call, 0, len(m.pending))
	for id, call := range m.pending {
		delete(m.pending, id)
		calls = append(calls, call)
	}
	observability.SetRPCPending(0)
	m.mu.Unlock()

	logs.Infof("rpc.Mux.shutdown cause=%v pending=%d", cause, len(calls))
	for _, call := range calls {
		call.finish(nil, fmt.Errorf("%w: %v", ErrCancelled, cause))
	}
	m.notifications.Close()
	close(m.done)
}
