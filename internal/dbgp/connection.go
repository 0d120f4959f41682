package dbgp

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dbgpdap/adapter/internal/xerr"
)

// Event is anything the engine sends without being asked: a notify or a
// stream frame (spec §6).
type Event struct {
	Notify *NotifyEvent
	Stream *StreamEvent
}

// pendingCommand is one outstanding command awaiting its reply. Exactly one
// of these is "in flight" at a time per spec §5 ("strict FIFO over a single
// transaction slot. No pipelining").
type pendingCommand struct {
	name string
	done chan struct{}
	body []byte
	err  error
}

// Connection owns one full-duplex DBGp transport (spec §4.3). One reader
// goroutine decodes frames off the wire and resolves pending commands or
// forwards events; outbound commands are serialized under a write mutex
// so a new command is never written before the connection has
// recorded it as in flight — this is what keeps replies matched to the
// right transaction id even under concurrent callers (spec §5).
type Connection struct {
	id int64

	rw io.ReadWriteCloser

	txCounter int64

	mu      sync.Mutex
	pending map[int]*pendingCommand
	// inFlightName is the command name currently awaiting a reply, or "" if
	// idle. Read by IsPendingExecuteCommand (spec §4.3).
	inFlightName string

	writeMu sync.Mutex

	initOnce sync.Once
	initCh   chan InitPacket
	initErr  error

	events chan Event

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// NewConnection wraps rw (a socket, or any ReadWriteCloser in tests) as a
// DBGp connection. Call Run in its own goroutine to start the reader loop.
func NewConnection(id int64, rw io.ReadWriteCloser) *Connection {
	return &Connection{
		id:      id,
		rw:      rw,
		pending: make(map[int]*pendingCommand),
		initCh:  make(chan InitPacket, 1),
		events:  make(chan Event, 64),
		closed:  make(chan struct{}),
	}
}

// ID returns the connection's adapter-lifetime-unique id (spec §3 ConnectionId).
func (c *Connection) ID() int64 { return c.id }

// Events returns the channel of unsolicited notify/stream frames. It is
// closed when the connection closes.
func (c *Connection) Events() <-chan Event { return c.events }

// WaitInit blocks for the connection's one-shot init frame (spec §4.3: "The
// init frame is consumed exactly once at start-of-connection and delivered
// to a one-shot wait-for-init future").
func (c *Connection) WaitInit(ctx context.Context) (InitPacket, error) {
	select {
	case pkt, ok := <-c.initCh:
		if !ok {
			return InitPacket{}, c.initErr
		}
		return pkt, nil
	case <-c.closed:
		return InitPacket{}, xerr.ConnectionClosed(c.id)
	case <-ctx.Done():
		return InitPacket{}, xerr.Transport(ctx.Err())
	}
}

// IsPendingExecuteCommand reports whether a run/step_* command is currently
// awaiting a reply (spec §4.3). C6 uses this to avoid contending with
// in-progress execution.
func (c *Connection) IsPendingExecuteCommand() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.HasPrefix(c.inFlightName, "run") || strings.HasPrefix(c.inFlightName, "step_")
}

// Run reads frames off the wire until the connection closes or ctx is
// cancelled, dispatching init/response/notify/stream frames. It returns the
// terminal error (nil on clean EOF).
func (c *Connection) Run(ctx context.Context) error {
	defer c.shutdown(nil)

	dec := NewFrameDecoder()
	buf := make([]byte, 4096)
	go func() {
		<-ctx.Done()
		c.rw.Close()
	}()

	for {
		n, err := c.rw.Read(buf)
		if n > 0 {
			frames, ferr := dec.Feed(buf[:n])
			for _, f := range frames {
				c.dispatch(f)
			}
			if ferr != nil {
				c.shutdown(ferr)
				return ferr
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			wrapped := xerr.Transport(err)
			c.shutdown(wrapped)
			return wrapped
		}
	}
}

func (c *Connection) dispatch(body []byte) {
	switch frameKind(body) {
	case "init":
		var pkt InitPacket
		if err := xml.Unmarshal(body, &pkt); err != nil {
			c.initOnce.Do(func() {
				c.initErr = xerr.ParseErr(err)
				close(c.initCh)
			})
			return
		}
		c.initOnce.Do(func() {
			c.initCh <- pkt
			close(c.initCh)
		})
	case "notify":
		var n NotifyEvent
		if err := xml.Unmarshal(body, &n); err != nil {
			return
		}
		n.Raw = body
		c.pushEvent(Event{Notify: &n})
	case "stream":
		var s StreamEvent
		if err := xml.Unmarshal(body, &s); err != nil {
			return
		}
		c.pushEvent(Event{Stream: &s})
	case "response":
		var env ResponseEnvelope
		if err := xml.Unmarshal(body, &env); err != nil {
			// The transaction id this response belonged to is unrecoverable
			// from malformed XML; since at most one command is ever in
			// flight per connection (spec §4.3), fail that single awaiter
			// rather than leaving it blocked forever.
			c.failPending(xerr.ParseErr(err))
			return
		}
		c.resolve(env.TransactionID, body, env.Error, env.Command)
	}
}

// failPending fails every currently in-flight command with err. Used when
// a response frame cannot be parsed well enough to resolve by transaction
// id (see the "response" case in dispatch above).
func (c *Connection) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int]*pendingCommand)
	c.inFlightName = ""
	c.mu.Unlock()
	for _, p := range pending {
		p.err = err
		close(p.done)
	}
}

func (c *Connection) pushEvent(e Event) {
	select {
	case c.events <- e:
	default:
		// Drop rather than block the reader loop; a slow consumer should
		// not stall the transaction pipeline.
	}
}

func (c *Connection) resolve(txID int, body []byte, errPayload *ErrorPayload, command string) {
	c.mu.Lock()
	p, ok := c.pending[txID]
	if ok {
		delete(c.pending, txID)
		c.inFlightName = ""
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if errPayload != nil {
		p.err = xerr.Engine(xerr.EngineErrorInfo{Code: errPayload.Code, Message: errPayload.Message, Command: command})
	} else {
		p.body = body
	}
	close(p.done)
}

func (c *Connection) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.closed)
		c.mu.Lock()
		pending := c.pending
		c.pending = make(map[int]*pendingCommand)
		c.mu.Unlock()
		for _, p := range pending {
			p.err = xerr.ConnectionClosed(c.id)
			close(p.done)
		}
		close(c.events)
	})
}

// Close closes the underlying transport, cancelling every pending awaiter.
func (c *Connection) Close() error {
	err := c.rw.Close()
	c.shutdown(err)
	return err
}

// Send issues one DBGp command and blocks for its reply. Only one Send may
// be in flight at a time per connection; concurrent callers queue on writeMu
// so the wire never sees two commands without an intervening reply (spec §5).
func (c *Connection) Send(ctx context.Context, name string, flags []KV, data []byte, hasData bool) ([]byte, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closed:
		return nil, xerr.ConnectionClosed(c.id)
	default:
	}

	txID := int(atomic.AddInt64(&c.txCounter, 1))
	p := &pendingCommand{name: name, done: make(chan struct{})}

	c.mu.Lock()
	c.pending[txID] = p
	c.inFlightName = name
	c.mu.Unlock()

	frame := EncodeFrame(EncodeCommand(name, txID, flags, data, hasData))
	if _, err := c.rw.Write(frame); err != nil {
		c.mu.Lock()
		delete(c.pending, txID)
		c.inFlightName = ""
		c.mu.Unlock()
		return nil, xerr.Transport(err)
	}

	select {
	case <-p.done:
		return p.body, p.err
	case <-c.closed:
		return nil, xerr.ConnectionClosed(c.id)
	case <-ctx.Done():
		return nil, xerr.Transport(ctx.Err())
	}
}

// --- typed command surface (spec §4.3's listed command set) ---

func (c *Connection) Status(ctx context.Context) (StatusReply, error) {
	body, err := c.Send(ctx, "status", nil, nil, false)
	if err != nil {
		return StatusReply{}, err
	}
	return DecodeStatusReply(body)
}

// Continue issues the DBGp "run" command (named Continue here since Run
// already names the reader loop above).
func (c *Connection) Continue(ctx context.Context) (StatusReply, error) {
	body, err := c.Send(ctx, "run", nil, nil, false)
	if err != nil {
		return StatusReply{}, err
	}
	return DecodeStatusReply(body)
}

func (c *Connection) StepInto(ctx context.Context) (StatusReply, error) {
	body, err := c.Send(ctx, "step_into", nil, nil, false)
	if err != nil {
		return StatusReply{}, err
	}
	return DecodeStatusReply(body)
}

func (c *Connection) StepOver(ctx context.Context) (StatusReply, error) {
	body, err := c.Send(ctx, "step_over", nil, nil, false)
	if err != nil {
		return StatusReply{}, err
	}
	return DecodeStatusReply(body)
}

func (c *Connection) StepOut(ctx context.Context) (StatusReply, error) {
	body, err := c.Send(ctx, "step_out", nil, nil, false)
	if err != nil {
		return StatusReply{}, err
	}
	return DecodeStatusReply(body)
}

func (c *Connection) Stop(ctx context.Context) (StatusReply, error) {
	body, err := c.Send(ctx, "stop", nil, nil, false)
	if err != nil {
		return StatusReply{}, err
	}
	return DecodeStatusReply(body)
}

func (c *Connection) FeatureGet(ctx context.Context, name string) (bool, string, error) {
	body, err := c.Send(ctx, "feature_get", []KV{{"n", name}}, nil, false)
	if err != nil {
		return false, "", err
	}
	return DecodeFeatureGetReply(body)
}

func (c *Connection) FeatureSet(ctx context.Context, name, value string) (bool, error) {
	body, err := c.Send(ctx, "feature_set", []KV{{"n", name}, {"v", value}}, nil, false)
	if err != nil {
		return false, err
	}
	return DecodeFeatureSetReply(body)
}

func (c *Connection) BreakpointSet(ctx context.Context, spec BreakpointSpec) (BreakpointSetReply, error) {
	flags, data, hasData := spec.Args()
	body, err := c.Send(ctx, "breakpoint_set", flags, data, hasData)
	if err != nil {
		return BreakpointSetReply{}, err
	}
	return DecodeBreakpointSetReply(body)
}

func (c *Connection) BreakpointGet(ctx context.Context, engineID string) (BreakpointGetReply, error) {
	body, err := c.Send(ctx, "breakpoint_get", []KV{{"d", engineID}}, nil, false)
	if err != nil {
		return BreakpointGetReply{}, err
	}
	return DecodeBreakpointGetReply(body)
}

func (c *Connection) BreakpointRemove(ctx context.Context, engineID string) error {
	_, err := c.Send(ctx, "breakpoint_remove", []KV{{"d", engineID}}, nil, false)
	return err
}

func (c *Connection) BreakpointList(ctx context.Context) ([]BreakpointListEntry, error) {
	body, err := c.Send(ctx, "breakpoint_list", nil, nil, false)
	if err != nil {
		return nil, err
	}
	return DecodeBreakpointListReply(body)
}

func (c *Connection) ContextNames(ctx context.Context, depth int) ([]ContextXML, error) {
	body, err := c.Send(ctx, "context_names", []KV{{"d", strconv.Itoa(depth)}}, nil, false)
	if err != nil {
		return nil, err
	}
	return DecodeContextNamesReply(body)
}

func (c *Connection) ContextGet(ctx context.Context, depth, context_ int) ([]PropertyXML, error) {
	body, err := c.Send(ctx, "context_get", []KV{{"d", strconv.Itoa(depth)}, {"c", strconv.Itoa(context_)}}, nil, false)
	if err != nil {
		return nil, err
	}
	return DecodeContextGetReply(body)
}

func (c *Connection) PropertyGet(ctx context.Context, depth, context_ int, name string, page int) (PropertyXML, error) {
	flags := []KV{{"d", strconv.Itoa(depth)}, {"c", strconv.Itoa(context_)}, {"n", name}}
	if page > 0 {
		flags = append(flags, KV{"p", strconv.Itoa(page)})
	}
	body, err := c.Send(ctx, "property_get", flags, nil, false)
	if err != nil {
		return PropertyXML{}, err
	}
	return DecodePropertyGetReply(body)
}

func (c *Connection) PropertyValue(ctx context.Context, depth, context_ int, fullName string) (string, error) {
	body, err := c.Send(ctx, "property_value", []KV{{"d", strconv.Itoa(depth)}, {"c", strconv.Itoa(context_)}, {"n", fullName}}, nil, false)
	if err != nil {
		return "", err
	}
	return DecodePropertyValueReply(body)
}

func (c *Connection) PropertySet(ctx context.Context, depth, context_ int, fullName string, value []byte) error {
	_, err := c.Send(ctx, "property_set", []KV{{"d", strconv.Itoa(depth)}, {"c", strconv.Itoa(context_)}, {"n", fullName}}, value, true)
	return err
}

func (c *Connection) StackGet(ctx context.Context, depth int) ([]StackFrameXML, error) {
	flags := []KV(nil)
	if depth >= 0 {
		flags = []KV{{"d", strconv.Itoa(depth)}}
	}
	body, err := c.Send(ctx, "stack_get", flags, nil, false)
	if err != nil {
		return nil, err
	}
	return DecodeStackGetReply(body)
}

func (c *Connection) Eval(ctx context.Context, expression string) (EvalReply, error) {
	body, err := c.Send(ctx, "eval", nil, []byte(expression), true)
	if err != nil {
		return EvalReply{}, err
	}
	return DecodeEvalReply(body)
}

func (c *Connection) Source(ctx context.Context, fileURI string) (string, error) {
	body, err := c.Send(ctx, "source", []KV{{"f", fileURI}}, nil, false)
	if err != nil {
		return "", err
	}
	return DecodeSourceReply(body)
}

// StdoutMode is the argument to the stdout command: 0 disable, 1 copy, 2
// redirect (spec §6 Configuration surface stream.stdout).
type StdoutMode int

func (c *Connection) Stdout(ctx context.Context, mode StdoutMode) error {
	_, err := c.Send(ctx, "stdout", []KV{{"c", fmt.Sprintf("%d", mode)}}, nil, false)
	return err
}
