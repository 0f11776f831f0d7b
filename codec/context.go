package codec

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mireska/weir/media"
)

// State is the lifecycle position of a Context.
type State int

const (
	// StateCreated: constructed, not yet opened. Only Open and Close are
	// legal.
	StateCreated State = iota
	// StateOpened: decoding. Packets flow in, frames flow out.
	StateOpened
	// StateDraining: the end-of-input marker has been sent; only
	// ReceiveFrame, Reset and Close make progress.
	StateDraining
	// StateClosed: terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateOpened:
		return "opened"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type options struct {
	log      *slog.Logger
	alloc    media.Allocator
	registry *Registry
}

// Option configures a Context at construction.
type Option func(*options)

// WithLogger routes the context's logging. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithAllocator supplies the allocator for decoded frames. Defaults to
// media.DefaultAllocator.
func WithAllocator(alloc media.Allocator) Option {
	return func(o *options) { o.alloc = alloc }
}

// WithRegistry resolves the decoder from a specific registry instead of
// the package default.
func WithRegistry(r *Registry) Option {
	return func(o *options) { o.registry = r }
}

// Context drives one decoder through its lifecycle and enforces the rules
// the Decoder interface promises its implementations: open-before-use,
// one bound stream, no input while draining, nothing after close.
//
// A failed Open leaves the context in its created state, so it can be
// reopened with corrected parameters. A failed decode leaves it open: bad
// data poisons at most the packet that carried it, never the context.
type Context struct {
	dec         Decoder
	name        string
	log         *slog.Logger
	alloc       media.Allocator
	state       State
	streamIndex int
}

// NewContext resolves id and constructs an unopened context for it.
func NewContext(id media.CodecID, opts ...Option) (*Context, error) {
	o := options{registry: defaultRegistry}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	if o.alloc == nil {
		o.alloc = media.DefaultAllocator
	}
	if o.registry == nil {
		o.registry = defaultRegistry
	}

	reg, err := o.registry.Lookup(id)
	if err != nil {
		return nil, err
	}
	return &Context{
		dec:         reg.New(),
		name:        reg.Name,
		log:         o.log.With("codec", reg.Name),
		alloc:       o.alloc,
		state:       StateCreated,
		streamIndex: -1,
	}, nil
}

// State reports the lifecycle position.
func (c *Context) State() State {
	return c.state
}

// StreamIndex reports the stream the context is bound to, or -1 before
// Open.
func (c *Context) StreamIndex() int {
	return c.streamIndex
}

// Name reports the resolved decoder's name.
func (c *Context) Name() string {
	return c.name
}

// Open validates params and configures the decoder. On failure the
// context stays unopened and a later Open may succeed.
func (c *Context) Open(params *Parameters) error {
	switch c.state {
	case StateClosed:
		return ErrClosed
	case StateOpened, StateDraining:
		return ErrAlreadyOpen
	}
	if params == nil {
		return fmt.Errorf("codec: open %s: %w: nil parameters", c.name, media.ErrInvalidParameters)
	}
	if err := c.dec.Open(params, Host{Log: c.log, Alloc: c.alloc}); err != nil {
		return fmt.Errorf("codec: open %s: %w", c.name, err)
	}
	c.streamIndex = params.StreamIndex
	c.state = StateOpened
	c.log.Debug("decoder opened", "stream", c.streamIndex)
	return nil
}

// SendPacket submits one compressed packet, or nil to mark the end of
// input and move the context to draining. media.ErrAgain means pending
// frames must be received first; the packet was not consumed. Packets for
// streams other than the bound one are rejected with ErrStreamMismatch
// and change nothing.
func (c *Context) SendPacket(pkt *media.Packet) error {
	switch c.state {
	case StateCreated:
		return ErrNotOpen
	case StateClosed:
		return ErrClosed
	case StateDraining:
		if pkt == nil {
			return nil
		}
		return ErrDraining
	}
	if pkt != nil && pkt.StreamIndex() != c.streamIndex {
		return fmt.Errorf("codec: %s: packet for stream %d on stream %d: %w",
			c.name, pkt.StreamIndex(), c.streamIndex, ErrStreamMismatch)
	}

	if err := c.dec.SendPacket(pkt); err != nil {
		if errors.Is(err, media.ErrAgain) {
			return err
		}
		return fmt.Errorf("codec: %s: send packet: %w", c.name, err)
	}
	if pkt == nil {
		c.state = StateDraining
	}
	return nil
}

// ReceiveFrame returns the next decoded frame. media.ErrAgain means the
// decoder wants more input; io.EOF means a drain has completed, and
// repeats harmlessly.
func (c *Context) ReceiveFrame() (media.Frame, error) {
	switch c.state {
	case StateCreated:
		return nil, ErrNotOpen
	case StateClosed:
		return nil, ErrClosed
	}

	frame, err := c.dec.ReceiveFrame()
	if err != nil {
		if errors.Is(err, media.ErrAgain) || errors.Is(err, io.EOF) {
			return nil, err
		}
		return nil, fmt.Errorf("codec: %s: receive frame: %w", c.name, err)
	}
	return frame, nil
}

// Reset discards buffered decoder state and returns a draining context to
// normal decoding, keeping it open and bound to the same stream.
func (c *Context) Reset() error {
	switch c.state {
	case StateCreated:
		return ErrNotOpen
	case StateClosed:
		return ErrClosed
	}
	c.dec.Reset()
	c.state = StateOpened
	return nil
}

// Close releases the decoder. Close is idempotent, and every other
// operation on a closed context reports ErrClosed.
func (c *Context) Close() error {
	if c.state == StateClosed {
		return nil
	}
	if c.state != StateCreated {
		c.dec.Reset() // drop any parked frame so its buffer returns
	}
	c.state = StateClosed
	if closer, ok := c.dec.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("codec: close %s: %w", c.name, err)
		}
	}
	return nil
}
