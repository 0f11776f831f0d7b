package media

import "sync"

// Allocator supplies and reclaims the byte buffers backing packets and
// frames. Implementations must be safe for concurrent use. Buffers come
// back through the owning packet's or frame's Release, exactly once.
type Allocator interface {
	// Get returns a buffer of exactly size bytes. The contents are
	// whatever the allocator had on hand.
	Get(size int) []byte

	// Put reclaims a buffer previously handed out by Get.
	Put(buf []byte)
}

// DefaultAllocator is used wherever a constructor receives a nil
// Allocator: plain make, with reclamation left to the garbage collector.
var DefaultAllocator Allocator = defaultAllocator{}

type defaultAllocator struct{}

func (defaultAllocator) Get(size int) []byte { return make([]byte, size) }
func (defaultAllocator) Put([]byte)          {}

func orDefault(a Allocator) Allocator {
	if a == nil {
		return DefaultAllocator
	}
	return a
}

// CountingAllocator wraps another Allocator with get/put accounting.
// Tests wire it through a demux/decode run to prove every buffer handed
// out was released exactly once: after all releases, Live reports 0.
type CountingAllocator struct {
	inner Allocator

	mu        sync.Mutex
	gets      int
	puts      int
	liveBytes int64
}

// NewCountingAllocator wraps inner, or DefaultAllocator when inner is nil.
func NewCountingAllocator(inner Allocator) *CountingAllocator {
	return &CountingAllocator{inner: orDefault(inner)}
}

func (a *CountingAllocator) Get(size int) []byte {
	a.mu.Lock()
	a.gets++
	a.liveBytes += int64(size)
	a.mu.Unlock()
	return a.inner.Get(size)
}

func (a *CountingAllocator) Put(buf []byte) {
	a.mu.Lock()
	a.puts++
	a.liveBytes -= int64(len(buf))
	a.mu.Unlock()
	a.inner.Put(buf)
}

// Gets reports how many buffers were handed out.
func (a *CountingAllocator) Gets() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gets
}

// Puts reports how many buffers came back.
func (a *CountingAllocator) Puts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.puts
}

// Live reports buffers handed out and not yet reclaimed.
func (a *CountingAllocator) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gets - a.puts
}

// LiveBytes reports the byte total of outstanding buffers.
func (a *CountingAllocator) LiveBytes() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.liveBytes
}
