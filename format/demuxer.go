// Package format opens media containers and splits them into streams of
// compressed packets.
//
// A Context is the working unit: Open probes the source against the
// registered container formats, parses headers, and then hands out
// media.Packets in muxed order until io.EOF. Packets own their payloads,
// so they outlive the Context.
//
// A Context is not safe for concurrent use; it belongs to one goroutine
// at a time. Separate Contexts are independent.
//
// Container implementations register in a Registry, usually the package
// default populated by weir.Init.
package format

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mireska/weir/media"
)

// Probe scoring. A probe returning ScoreMax is certain (magic bytes
// matched); ScoreExtension is what a file name match alone earns.
// ScoreMIME sits between them and is reserved for transports that carry
// a content type.
const (
	ScoreMax       = 100
	ScoreMIME      = 75
	ScoreExtension = 50

	// ProbeSize is how many leading bytes a probe function sees.
	ProbeSize = 8192
)

// Demuxer is one container implementation. Demuxers are driven through a
// Context: Open exactly once, then ReadPacket until io.EOF. The Reader
// passed to Open is the same one passed to every later call.
type Demuxer interface {
	FormatID() media.FormatID
	Name() string

	// Open parses container headers and builds the stream table.
	Open(r *Reader, host Host) error

	// Streams reports the stream table. The slice and its entries stay
	// stable after Open.
	Streams() []*Stream

	// ReadPacket returns the next packet in muxed order, or io.EOF when
	// the container is exhausted.
	ReadPacket(r *Reader) (*media.Packet, error)

	// Duration reports the container's total duration, when known.
	Duration() (time.Duration, bool)

	// Seek repositions so the next packet of the given stream lands at
	// or before ts (in the stream's time base). Implementations that
	// cannot seek report media.ErrUnsupported.
	Seek(r *Reader, streamIndex int, ts int64) error

	// Metadata reports container-level tags, or nil.
	Metadata() map[string]string
}

// Host hands a demuxer the facilities of its owning context. Both fields
// are non-nil by the time Open runs.
type Host struct {
	Log   *slog.Logger
	Alloc media.Allocator
}

// Registration describes one container implementation.
type Registration struct {
	ID   media.FormatID
	Name string
	// Extensions are lowercase file extensions without the dot.
	Extensions []string
	// Probe inspects up to ProbeSize leading bytes and scores the match,
	// 0 for no match. The registry adds the extension fallback itself.
	Probe func(data []byte, name string) int
	New   func() Demuxer
}

// Registry maps container formats to implementations. The zero value is
// ready to use, and a Registry is safe for concurrent use. Probe ties go
// to the earlier registration.
type Registry struct {
	mu   sync.RWMutex
	regs []Registration
}

func (r *Registry) Register(reg Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.regs {
		if r.regs[i].ID == reg.ID {
			r.regs[i] = reg
			return
		}
	}
	r.regs = append(r.regs, reg)
}

// Lookup finds the registration for a format ID.
func (r *Registry) Lookup(id media.FormatID) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, reg := range r.regs {
		if reg.ID == id {
			return reg, nil
		}
	}
	return Registration{}, ErrFormatNotFound
}

// Probe scores every registered format against the leading bytes and the
// source name and returns the best match.
func (r *Registry) Probe(data []byte, name string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	var best Registration
	bestScore := 0
	for _, reg := range r.regs {
		score := 0
		if reg.Probe != nil {
			score = reg.Probe(data, name)
		}
		if score < ScoreExtension && ext != "" {
			for _, e := range reg.Extensions {
				if e == ext {
					score = ScoreExtension
					break
				}
			}
		}
		if score > bestScore {
			best = reg
			bestScore = score
		}
	}
	if bestScore == 0 {
		return Registration{}, ErrFormatNotFound
	}
	return best, nil
}

// IDs lists the registered format IDs in registration order.
func (r *Registry) IDs() []media.FormatID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]media.FormatID, 0, len(r.regs))
	for _, reg := range r.regs {
		ids = append(ids, reg.ID)
	}
	return ids
}

// Clear removes every registration.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regs = nil
}

var defaultRegistry = &Registry{}

// DefaultRegistry is the registry Open uses when no WithRegistry option
// is given. weir.Init populates it with the built-in containers.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Register adds a container to the default registry.
func Register(reg Registration) {
	defaultRegistry.Register(reg)
}
