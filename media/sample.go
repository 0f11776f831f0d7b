package media

import (
	"fmt"
	mathbits "math/bits"
)

// SampleFormat describes how decoded audio samples are laid out in memory.
// Packed formats interleave channels within a single plane; planar formats
// give each channel its own plane.
type SampleFormat int

const (
	SampleFormatNone SampleFormat = iota
	SampleFormatU8
	SampleFormatS16
	SampleFormatS32
	SampleFormatF32
	SampleFormatF64
	SampleFormatU8P
	SampleFormatS16P
	SampleFormatS32P
	SampleFormatF32P
	SampleFormatF64P
)

// BytesPerSample reports the storage size of one sample of one channel, or
// 0 for SampleFormatNone.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case SampleFormatU8, SampleFormatU8P:
		return 1
	case SampleFormatS16, SampleFormatS16P:
		return 2
	case SampleFormatS32, SampleFormatS32P, SampleFormatF32, SampleFormatF32P:
		return 4
	case SampleFormatF64, SampleFormatF64P:
		return 8
	default:
		return 0
	}
}

// IsPlanar reports whether each channel occupies its own plane.
func (f SampleFormat) IsPlanar() bool {
	return f >= SampleFormatU8P && f <= SampleFormatF64P
}

// Packed returns the interleaved counterpart of f. Packed formats map to
// themselves.
func (f SampleFormat) Packed() SampleFormat {
	if f.IsPlanar() {
		return f - SampleFormatU8P + SampleFormatU8
	}
	return f
}

// Planar returns the per-channel counterpart of f. Planar formats map to
// themselves.
func (f SampleFormat) Planar() SampleFormat {
	if f > SampleFormatNone && f <= SampleFormatF64 {
		return f - SampleFormatU8 + SampleFormatU8P
	}
	return f
}

func (f SampleFormat) String() string {
	switch f {
	case SampleFormatU8:
		return "u8"
	case SampleFormatS16:
		return "s16"
	case SampleFormatS32:
		return "s32"
	case SampleFormatF32:
		return "f32"
	case SampleFormatF64:
		return "f64"
	case SampleFormatU8P:
		return "u8p"
	case SampleFormatS16P:
		return "s16p"
	case SampleFormatS32P:
		return "s32p"
	case SampleFormatF32P:
		return "f32p"
	case SampleFormatF64P:
		return "f64p"
	default:
		return "none"
	}
}

// ChannelLayout is a bitmask of speaker positions, one bit per channel.
// The zero value means the layout is unknown; channel counts are tracked
// separately so unknown layouts still decode.
type ChannelLayout uint64

// Speaker positions.
const (
	ChannelFrontLeft ChannelLayout = 1 << iota
	ChannelFrontRight
	ChannelFrontCenter
	ChannelLowFrequency
	ChannelBackLeft
	ChannelBackRight
	ChannelFrontLeftOfCenter
	ChannelFrontRightOfCenter
	ChannelBackCenter
	ChannelSideLeft
	ChannelSideRight
)

// Common layouts.
const (
	LayoutMono     = ChannelFrontCenter
	LayoutStereo   = ChannelFrontLeft | ChannelFrontRight
	Layout2Point1  = LayoutStereo | ChannelLowFrequency
	LayoutSurround = LayoutStereo | ChannelFrontCenter
	Layout5Point1  = LayoutSurround | ChannelLowFrequency | ChannelBackLeft | ChannelBackRight
	Layout7Point1  = Layout5Point1 | ChannelSideLeft | ChannelSideRight
)

// Channels reports how many channels the layout describes.
func (l ChannelLayout) Channels() int {
	return mathbits.OnesCount64(uint64(l))
}

// LayoutFromChannels returns the conventional layout for a channel count,
// or 0 when there is no conventional assignment.
func LayoutFromChannels(n int) ChannelLayout {
	switch n {
	case 1:
		return LayoutMono
	case 2:
		return LayoutStereo
	case 3:
		return Layout2Point1
	case 6:
		return Layout5Point1
	case 8:
		return Layout7Point1
	default:
		return 0
	}
}

func (l ChannelLayout) String() string {
	switch l {
	case 0:
		return "none"
	case LayoutMono:
		return "mono"
	case LayoutStereo:
		return "stereo"
	case Layout2Point1:
		return "2.1"
	case LayoutSurround:
		return "3.0"
	case Layout5Point1:
		return "5.1"
	case Layout7Point1:
		return "7.1"
	default:
		return fmt.Sprintf("0x%x", uint64(l))
	}
}
