// Package weir turns container files into codec packets and codec
// packets into decoded frames, in pure Go.
//
// The library speaks error values where a C media library would return
// status codes: nil for success, io.EOF for an exhausted stream or a
// finished drain, media.ErrAgain when a send/receive cycle needs its
// other half to run first, and wrapped sentinels for real failures.
//
// Most programs need only the flat surface here:
//
//	weir.Init()
//	fc, err := weir.Open("input.wav")
//	...
//	dec, err := weir.NewDecoder(stream.CodecID)
//
// The format and codec packages hold the registries, contexts and
// per-container building blocks behind it, for callers who want to
// assemble their own.
package weir

import (
	"io"
	"sync"

	"github.com/mireska/weir/codec"
	"github.com/mireska/weir/codec/flac"
	"github.com/mireska/weir/codec/pcm"
	"github.com/mireska/weir/codec/rawvideo"
	"github.com/mireska/weir/format"
	"github.com/mireska/weir/format/adts"
	"github.com/mireska/weir/format/aiff"
	"github.com/mireska/weir/format/flacfile"
	"github.com/mireska/weir/format/mp3"
	"github.com/mireska/weir/format/mpegts"
	"github.com/mireska/weir/format/wav"
	"github.com/mireska/weir/media"
)

const version = "0.1.0"

var (
	initMu sync.Mutex
	ready  bool
)

// Init registers every built-in demuxer and decoder with the default
// registries. It is safe to call from multiple goroutines and does
// nothing after the first call, until a Shutdown.
func Init() {
	initMu.Lock()
	defer initMu.Unlock()
	if ready {
		return
	}
	fr := format.DefaultRegistry()
	wav.Register(fr)
	aiff.Register(fr)
	flacfile.Register(fr)
	adts.Register(fr)
	mp3.Register(fr)
	mpegts.Register(fr)

	cr := codec.DefaultRegistry()
	pcm.Register(cr)
	flac.Register(cr)
	rawvideo.Register(cr)

	ready = true
}

// Shutdown clears the default registries. Contexts that are already open
// keep working; Init brings the registries back.
func Shutdown() {
	initMu.Lock()
	defer initMu.Unlock()
	format.DefaultRegistry().Clear()
	codec.DefaultRegistry().Clear()
	ready = false
}

// Open opens the file at path and probes its container format,
// registering the built-ins first if nothing has.
func Open(path string, opts ...format.Option) (*format.Context, error) {
	Init()
	return format.Open(path, opts...)
}

// OpenReader opens a container from an arbitrary source. The name is
// only a probe hint and a label for logs; it may be empty.
func OpenReader(src io.Reader, name string, opts ...format.Option) (*format.Context, error) {
	Init()
	return format.OpenReader(src, name, opts...)
}

// NewDecoder constructs an unopened decoding context for id.
func NewDecoder(id media.CodecID, opts ...codec.Option) (*codec.Context, error) {
	Init()
	return codec.NewContext(id, opts...)
}

// Version reports the library version.
func Version() string { return version }
