package media

// Packet is one compressed access unit belonging to exactly one stream: a
// block of PCM sample frames, one ADTS or FLAC frame, one H.264 access
// unit. Packets own a private copy of their payload, so they remain valid
// after the demuxer that produced them advances or closes.
//
// A packet is released exactly once. Release reports ErrReleased on the
// second and later calls; every other method panics once the packet has
// been released.
type Packet struct {
	data        []byte
	streamIndex int
	pts         int64
	dts         int64
	duration    int64
	timeBase    Rational
	keyframe    bool
	pos         int64

	alloc    Allocator
	released bool
}

// PacketParams carries packet metadata for NewPacket. PTS, DTS and
// Duration default to valid zeros; pass NoPTS explicitly when a timestamp
// is unknown.
type PacketParams struct {
	StreamIndex int
	PTS         int64
	DTS         int64
	Duration    int64
	TimeBase    Rational
	Keyframe    bool
	Pos         int64
}

// NewPacket builds a packet owning a copy of payload. A nil alloc selects
// DefaultAllocator.
func NewPacket(alloc Allocator, payload []byte, p PacketParams) *Packet {
	alloc = orDefault(alloc)
	buf := alloc.Get(len(payload))
	copy(buf, payload)
	return &Packet{
		data:        buf,
		streamIndex: p.StreamIndex,
		pts:         p.PTS,
		dts:         p.DTS,
		duration:    p.Duration,
		timeBase:    p.TimeBase,
		keyframe:    p.Keyframe,
		pos:         p.Pos,
		alloc:       alloc,
	}
}

func (p *Packet) use() {
	if p.released {
		panic("media: Packet used after Release")
	}
}

// Data exposes the payload. The slice belongs to the packet and is valid
// only until Release.
func (p *Packet) Data() []byte {
	p.use()
	return p.data
}

// Size reports the payload length in bytes.
func (p *Packet) Size() int {
	p.use()
	return len(p.data)
}

// StreamIndex reports which stream of the source this packet belongs to.
// It is fixed at construction.
func (p *Packet) StreamIndex() int {
	p.use()
	return p.streamIndex
}

// PTS is the presentation timestamp in TimeBase units, or NoPTS.
func (p *Packet) PTS() int64 {
	p.use()
	return p.pts
}

// DTS is the decode timestamp in TimeBase units, or NoPTS.
func (p *Packet) DTS() int64 {
	p.use()
	return p.dts
}

// Duration is the packet's duration in TimeBase units, or 0 when unknown.
func (p *Packet) Duration() int64 {
	p.use()
	return p.duration
}

// TimeBase is the unit for the packet's timestamps.
func (p *Packet) TimeBase() Rational {
	p.use()
	return p.timeBase
}

// Keyframe reports whether the packet starts a decodable point.
func (p *Packet) Keyframe() bool {
	p.use()
	return p.keyframe
}

// Pos is the byte offset of the packet in its source, or -1 when unknown.
func (p *Packet) Pos() int64 {
	p.use()
	return p.pos
}

// Release returns the payload buffer to the allocator. The first call
// succeeds; later calls report ErrReleased and change nothing.
func (p *Packet) Release() error {
	if p.released {
		return ErrReleased
	}
	p.released = true
	p.alloc.Put(p.data)
	p.data = nil
	return nil
}

// Released reports whether Release has been called.
func (p *Packet) Released() bool {
	return p.released
}
