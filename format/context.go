package format

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/mireska/weir/media"
)

type options struct {
	log      *slog.Logger
	alloc    media.Allocator
	registry *Registry
	formatID media.FormatID
}

// Option configures Open.
type Option func(*options)

// WithLogger routes the context's logging. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithAllocator supplies the allocator backing demuxed packets. Defaults
// to media.DefaultAllocator.
func WithAllocator(alloc media.Allocator) Option {
	return func(o *options) { o.alloc = alloc }
}

// WithRegistry probes against a specific registry instead of the package
// default.
func WithRegistry(r *Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithFormat skips probing and forces a container format.
func WithFormat(id media.FormatID) Option {
	return func(o *options) { o.formatID = id }
}

// Context is an open container: a probed demuxer bound to its source.
// Read packets until io.EOF, then Close. Packets stay valid after both.
type Context struct {
	reader  *Reader
	dmx     Demuxer
	name    string
	src     io.Closer
	log     *slog.Logger
	streams []*Stream
	stats   ReadStats
	eof     bool
	closed  bool
}

// Open opens the file at path and probes its container format.
func Open(path string, opts ...Option) (*Context, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("format: open: %w", err)
	}
	ctx, err := open(f, path, f, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	return ctx, nil
}

// OpenReader opens a container from an arbitrary source. The name is used
// for extension probing and diagnostics and may be empty. The source is
// never closed by the context; whoever opened it keeps that job. Sources
// that cannot seek still demux, but probing is limited to magic bytes and
// backward seeks fail.
func OpenReader(src io.Reader, name string, opts ...Option) (*Context, error) {
	return open(src, name, nil, opts...)
}

func open(src io.Reader, name string, owned io.Closer, opts ...Option) (*Context, error) {
	var o options
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

	reader := NewReader(src)
	var reg Registration
	var err error
	if o.formatID != media.FormatNone {
		if reg, err = o.registry.Lookup(o.formatID); err != nil {
			return nil, fmt.Errorf("%w: %s", err, o.formatID)
		}
	} else {
		head, _ := reader.Peek(ProbeSize)
		if reg, err = o.registry.Probe(head, name); err != nil {
			return nil, fmt.Errorf("%w: %q", err, name)
		}
	}

	dmx := reg.New()
	log := o.log.With("format", reg.Name)
	if err := dmx.Open(reader, Host{Log: log, Alloc: o.alloc}); err != nil {
		return nil, fmt.Errorf("format: open %q as %s: %w", name, reg.Name, err)
	}

	streams := dmx.Streams()
	log.Debug("container opened", "streams", len(streams))
	return &Context{
		reader:  reader,
		dmx:     dmx,
		name:    reg.Name,
		src:     owned,
		log:     log,
		streams: streams,
		stats:   ReadStats{Streams: make(map[int]StreamStats)},
	}, nil
}

// Name reports the resolved container's name, such as "wav".
func (c *Context) Name() string {
	return c.name
}

// FormatID reports the resolved container format.
func (c *Context) FormatID() media.FormatID {
	return c.dmx.FormatID()
}

// Streams reports the stream table built at open. The indices match
// Packet.StreamIndex.
func (c *Context) Streams() []*Stream {
	return c.streams
}

// Stream returns the stream at index.
func (c *Context) Stream(index int) (*Stream, error) {
	if index < 0 || index >= len(c.streams) {
		return nil, fmt.Errorf("%w: index %d of %d", ErrStreamNotFound, index, len(c.streams))
	}
	return c.streams[index], nil
}

// BestStream returns the first stream of the given type.
func (c *Context) BestStream(t media.MediaType) (*Stream, error) {
	for _, s := range c.streams {
		if s.MediaType == t {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: no %s stream", ErrStreamNotFound, t)
}

// ReadPacket returns the next packet in muxed order. The end of the
// container is io.EOF, and once reported it repeats on every later call.
func (c *Context) ReadPacket() (*media.Packet, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if c.eof {
		return nil, io.EOF
	}

	pkt, err := c.dmx.ReadPacket(c.reader)
	if err != nil {
		if errors.Is(err, io.EOF) {
			c.eof = true
			return nil, io.EOF
		}
		return nil, fmt.Errorf("format: %s: read packet: %w", c.name, err)
	}
	c.stats.record(pkt)
	return pkt, nil
}

// Duration reports the container's total duration, when known.
func (c *Context) Duration() (time.Duration, bool) {
	if c.closed {
		return 0, false
	}
	return c.dmx.Duration()
}

// Metadata reports container-level tags, or nil.
func (c *Context) Metadata() map[string]string {
	if c.closed {
		return nil
	}
	return c.dmx.Metadata()
}

// Seek repositions so the next packet of the given stream lands at or
// before ts in the stream's time base, and clears a pending end-of-file.
func (c *Context) Seek(streamIndex int, ts int64) error {
	if c.closed {
		return ErrClosed
	}
	if _, err := c.Stream(streamIndex); err != nil {
		return err
	}
	if err := c.dmx.Seek(c.reader, streamIndex, ts); err != nil {
		if errors.Is(err, media.ErrUnsupported) {
			return err
		}
		return fmt.Errorf("format: %s: seek: %w", c.name, err)
	}
	c.eof = false
	return nil
}

// Stats reports packet counters accumulated by ReadPacket.
func (c *Context) Stats() ReadStats {
	return c.stats.clone()
}

// Close releases the context and, when the context opened the file
// itself, the underlying source. Close is idempotent. Packets already
// read stay valid.
func (c *Context) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.src != nil {
		if err := c.src.Close(); err != nil {
			return fmt.Errorf("format: close source: %w", err)
		}
	}
	return nil
}
