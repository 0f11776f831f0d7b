package media

import "fmt"

// Frame is one decoded unit of media: a run of audio sample frames or one
// video picture. The concrete types are *AudioFrame and *VideoFrame.
//
// Frames follow the same buffer discipline as packets: Release exactly
// once, ErrReleased on repeats, and a panic on any other use afterwards.
type Frame interface {
	MediaType() MediaType
	PTS() int64
	TimeBase() Rational
	Release() error
}

// AudioFrameParams carries the layout for NewAudioFrame. Channels may be
// left 0 when ChannelLayout is set.
type AudioFrameParams struct {
	NumSamples    int
	SampleRate    int
	SampleFormat  SampleFormat
	ChannelLayout ChannelLayout
	Channels      int
	PTS           int64
	TimeBase      Rational
}

// AudioFrame holds decoded audio. Packed sample formats use a single data
// plane with channels interleaved per sample; planar formats use one plane
// per channel.
type AudioFrame struct {
	numSamples    int
	sampleRate    int
	sampleFormat  SampleFormat
	channelLayout ChannelLayout
	channels      int
	pts           int64
	timeBase      Rational

	planes   [][]byte
	alloc    Allocator
	released bool
}

// NewAudioFrame allocates a frame sized for p, ready for a decoder to
// fill through Data. A nil alloc selects DefaultAllocator.
func NewAudioFrame(alloc Allocator, p AudioFrameParams) (*AudioFrame, error) {
	channels := p.Channels
	if channels == 0 {
		channels = p.ChannelLayout.Channels()
	}
	bps := p.SampleFormat.BytesPerSample()
	switch {
	case p.NumSamples <= 0:
		return nil, fmt.Errorf("%w: audio frame with %d samples", ErrInvalidParameters, p.NumSamples)
	case p.SampleRate <= 0:
		return nil, fmt.Errorf("%w: audio frame with sample rate %d", ErrInvalidParameters, p.SampleRate)
	case bps == 0:
		return nil, fmt.Errorf("%w: audio frame with unknown sample format", ErrInvalidParameters)
	case channels <= 0:
		return nil, fmt.Errorf("%w: audio frame with %d channels", ErrInvalidParameters, channels)
	}

	alloc = orDefault(alloc)
	var planes [][]byte
	if p.SampleFormat.IsPlanar() {
		planes = make([][]byte, channels)
		for i := range planes {
			planes[i] = alloc.Get(p.NumSamples * bps)
		}
	} else {
		planes = [][]byte{alloc.Get(p.NumSamples * bps * channels)}
	}

	return &AudioFrame{
		numSamples:    p.NumSamples,
		sampleRate:    p.SampleRate,
		sampleFormat:  p.SampleFormat,
		channelLayout: p.ChannelLayout,
		channels:      channels,
		pts:           p.PTS,
		timeBase:      p.TimeBase,
		planes:        planes,
		alloc:         alloc,
	}, nil
}

func (f *AudioFrame) use() {
	if f.released {
		panic("media: AudioFrame used after Release")
	}
}

func (f *AudioFrame) MediaType() MediaType { f.use(); return MediaTypeAudio }

// PTS is the presentation timestamp of the first sample, or NoPTS.
func (f *AudioFrame) PTS() int64 { f.use(); return f.pts }

// SetPTS stamps the frame; decoders call it as frames are emitted.
func (f *AudioFrame) SetPTS(pts int64) { f.use(); f.pts = pts }

func (f *AudioFrame) TimeBase() Rational { f.use(); return f.timeBase }

// NumSamples reports sample frames per channel.
func (f *AudioFrame) NumSamples() int { f.use(); return f.numSamples }

func (f *AudioFrame) SampleRate() int { f.use(); return f.sampleRate }

func (f *AudioFrame) SampleFormat() SampleFormat { f.use(); return f.sampleFormat }

func (f *AudioFrame) ChannelLayout() ChannelLayout { f.use(); return f.channelLayout }

func (f *AudioFrame) Channels() int { f.use(); return f.channels }

// Planes reports the number of data planes: 1 for packed formats, one per
// channel for planar formats.
func (f *AudioFrame) Planes() int { f.use(); return len(f.planes) }

// Data exposes one plane for reading or filling. The slice belongs to the
// frame and is valid only until Release.
func (f *AudioFrame) Data(plane int) []byte {
	f.use()
	if plane < 0 || plane >= len(f.planes) {
		panic(fmt.Sprintf("media: audio plane %d out of range [0,%d)", plane, len(f.planes)))
	}
	return f.planes[plane]
}

// Release returns all planes to the allocator. The first call succeeds;
// later calls report ErrReleased and change nothing.
func (f *AudioFrame) Release() error {
	if f.released {
		return ErrReleased
	}
	f.released = true
	for _, p := range f.planes {
		f.alloc.Put(p)
	}
	f.planes = nil
	return nil
}

// Released reports whether Release has been called.
func (f *AudioFrame) Released() bool { return f.released }

// VideoFrameParams carries the layout for NewVideoFrame.
type VideoFrameParams struct {
	Width       int
	Height      int
	PixelFormat PixelFormat
	Keyframe    bool
	PTS         int64
	TimeBase    Rational
}

// VideoFrame holds one decoded picture as tightly packed planes.
type VideoFrame struct {
	width       int
	height      int
	pixelFormat PixelFormat
	keyframe    bool
	pts         int64
	timeBase    Rational

	planes   [][]byte
	strides  []int
	alloc    Allocator
	released bool
}

// NewVideoFrame allocates a frame sized for p, ready for a decoder to
// fill through Plane. A nil alloc selects DefaultAllocator.
func NewVideoFrame(alloc Allocator, p VideoFrameParams) (*VideoFrame, error) {
	switch {
	case p.Width <= 0 || p.Height <= 0:
		return nil, fmt.Errorf("%w: video frame %dx%d", ErrInvalidParameters, p.Width, p.Height)
	case p.PixelFormat.PlaneCount() == 0:
		return nil, fmt.Errorf("%w: video frame with unknown pixel format", ErrInvalidParameters)
	}

	alloc = orDefault(alloc)
	n := p.PixelFormat.PlaneCount()
	planes := make([][]byte, n)
	strides := make([]int, n)
	for i := 0; i < n; i++ {
		strides[i] = p.PixelFormat.Linesize(i, p.Width)
		planes[i] = alloc.Get(strides[i] * p.PixelFormat.PlaneHeight(i, p.Height))
	}

	return &VideoFrame{
		width:       p.Width,
		height:      p.Height,
		pixelFormat: p.PixelFormat,
		keyframe:    p.Keyframe,
		pts:         p.PTS,
		timeBase:    p.TimeBase,
		planes:      planes,
		strides:     strides,
		alloc:       alloc,
	}, nil
}

func (f *VideoFrame) use() {
	if f.released {
		panic("media: VideoFrame used after Release")
	}
}

func (f *VideoFrame) MediaType() MediaType { f.use(); return MediaTypeVideo }

func (f *VideoFrame) PTS() int64 { f.use(); return f.pts }

// SetPTS stamps the frame; decoders call it as frames are emitted.
func (f *VideoFrame) SetPTS(pts int64) { f.use(); f.pts = pts }

func (f *VideoFrame) TimeBase() Rational { f.use(); return f.timeBase }

func (f *VideoFrame) Width() int { f.use(); return f.width }

func (f *VideoFrame) Height() int { f.use(); return f.height }

func (f *VideoFrame) PixelFormat() PixelFormat { f.use(); return f.pixelFormat }

func (f *VideoFrame) Keyframe() bool { f.use(); return f.keyframe }

func (f *VideoFrame) Planes() int { f.use(); return len(f.planes) }

// Plane exposes one plane for reading or filling. The slice belongs to
// the frame and is valid only until Release.
func (f *VideoFrame) Plane(i int) []byte {
	f.use()
	if i < 0 || i >= len(f.planes) {
		panic(fmt.Sprintf("media: video plane %d out of range [0,%d)", i, len(f.planes)))
	}
	return f.planes[i]
}

// Stride reports the byte width of one row of plane i.
func (f *VideoFrame) Stride(i int) int {
	f.use()
	if i < 0 || i >= len(f.strides) {
		panic(fmt.Sprintf("media: video plane %d out of range [0,%d)", i, len(f.strides)))
	}
	return f.strides[i]
}

// Release returns all planes to the allocator. The first call succeeds;
// later calls report ErrReleased and change nothing.
func (f *VideoFrame) Release() error {
	if f.released {
		return ErrReleased
	}
	f.released = true
	for _, p := range f.planes {
		f.alloc.Put(p)
	}
	f.planes = nil
	return nil
}

// Released reports whether Release has been called.
func (f *VideoFrame) Released() bool { return f.released }
