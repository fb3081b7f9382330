package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrTimeout          = errors.New("frame: invoke timed out")
	ErrConnectionClosed = errors.New("frame: connection closed")
	ErrProtocol         = errors.New("frame: protocol error")
)

// counterEnvelopeSize is the width of the connection-local monotonic
// request counter that Invoke/response pairs carry ahead of their real
// payload, so the wire Header stays exactly as specified in spec.md §6
// while Conn can still demultiplex concurrent invokes on one connection
// (SPEC_FULL.md C1).
const counterEnvelopeSize = 8

// Dispatcher handles frames that are not the response half of a pending
// Invoke: requests (which must be answered) and notifies (fire-and-forget).
// The message router (C4) implements this interface.
type Dispatcher interface {
	// OnRequest handles an inbound request and returns the response
	// payload and klaytn-style return code.
	OnRequest(conn *Conn, command uint32, payload []byte) (respPayload []byte, returnCode uint32)
	// OnNotify handles an inbound notify.
	OnNotify(conn *Conn, command uint32, payload []byte)
}

// Conn is a single persistent TCP stream speaking the framed protocol.
type Conn struct {
	nc net.Conn

	writeMu sync.Mutex
	counter uint64

	pendingMu sync.Mutex
	pending   map[uint64]chan *Frame
	closed    chan struct{}
	closeOnce sync.Once
}

// NewConn wraps an established net.Conn.
func NewConn(nc net.Conn) *Conn {
	return &Conn{
		nc:      nc,
		pending: make(map[uint64]chan *Frame),
		closed:  make(chan struct{}),
	}
}

// RemoteAddr returns the underlying connection's remote address.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// Close tears down the connection and fails any invokes still waiting on
// a response.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.pendingMu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()
	})
	return c.nc.Close()
}

func (c *Conn) writeFrame(f *Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return Write(c.nc, f)
}

// Invoke sends a request and blocks for the matching response on this
// connection, honoring deadline. Concurrent invokes on one Conn are safe;
// each awaits its own counter.
func (c *Conn) Invoke(deadline time.Time, command uint32, payload []byte) ([]byte, error) {
	id := atomic.AddUint64(&c.counter, 1)
	body := make([]byte, counterEnvelopeSize+len(payload))
	binary.LittleEndian.PutUint64(body[:counterEnvelopeSize], id)
	copy(body[counterEnvelopeSize:], payload)

	replyCh := make(chan *Frame, 1)
	c.pendingMu.Lock()
	select {
	case <-c.closed:
		c.pendingMu.Unlock()
		return nil, ErrConnectionClosed
	default:
	}
	c.pending[id] = replyCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.writeFrame(&Frame{
		Header: Header{HaveToReturn: 1, Command: command, Flags: FlagRequest},
		Body:   body,
	}); err != nil {
		return nil, fmt.Errorf("frame: invoke send: %w", err)
	}

	var timer *time.Timer
	var timeoutC <-chan time.Time
	if !deadline.IsZero() {
		timer = time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case resp, ok := <-replyCh:
		if !ok {
			return nil, ErrConnectionClosed
		}
		if resp.ReturnCode != 0 {
			return resp.Body[counterEnvelopeSize:], fmt.Errorf("%w: return code %d", ErrProtocol, resp.ReturnCode)
		}
		return resp.Body[counterEnvelopeSize:], nil
	case <-timeoutC:
		return nil, ErrTimeout
	case <-c.closed:
		return nil, ErrConnectionClosed
	}
}

// Notify sends a fire-and-forget frame; it only fails if the write itself
// fails (a rejected send buffer, in spec.md's terms).
func (c *Conn) Notify(command uint32, payload []byte) error {
	return c.writeFrame(&Frame{
		Header: Header{Command: command, Flags: 0},
		Body:   payload,
	})
}

func (c *Conn) respond(command uint32, counterID uint64, returnCode uint32, payload []byte) error {
	body := make([]byte, counterEnvelopeSize+len(payload))
	binary.LittleEndian.PutUint64(body[:counterEnvelopeSize], counterID)
	copy(body[counterEnvelopeSize:], payload)
	return c.writeFrame(&Frame{
		Header: Header{Command: command, Flags: FlagResponse, ReturnCode: returnCode},
		Body:   body,
	})
}

// Serve runs the connection's read loop until the connection closes or an
// unrecoverable protocol error occurs, dispatching requests and notifies to
// d and completing pending Invoke calls for responses. It blocks the
// calling goroutine.
func (c *Conn) Serve(d Dispatcher) error {
	for {
		f, err := Read(c.nc)
		if err != nil {
			c.Close()
			return err
		}

		switch {
		case f.IsResponse():
			if len(f.Body) < counterEnvelopeSize {
				c.Close()
				return ErrProtocol
			}
			id := binary.LittleEndian.Uint64(f.Body[:counterEnvelopeSize])
			c.pendingMu.Lock()
			ch, ok := c.pending[id]
			c.pendingMu.Unlock()
			if ok {
				select {
				case ch <- f:
				default:
				}
			}

		case f.IsRequest():
			if len(f.Body) < counterEnvelopeSize {
				c.Close()
				return ErrProtocol
			}
			id := binary.LittleEndian.Uint64(f.Body[:counterEnvelopeSize])
			payload := f.Body[counterEnvelopeSize:]
			respPayload, code := d.OnRequest(c, f.Command, payload)
			if err := c.respond(f.Command, id, code, respPayload); err != nil {
				c.Close()
				return err
			}

		default: // notify
			d.OnNotify(c, f.Command, f.Body)
		}
	}
}
