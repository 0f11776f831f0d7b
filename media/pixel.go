package media

// PixelFormat describes the memory layout of decoded video pixels.
type PixelFormat int

const (
	PixelFormatNone PixelFormat = iota
	PixelFormatYUV420P
	PixelFormatYUV422P
	PixelFormatYUV444P
	PixelFormatNV12
	PixelFormatRGB24
	PixelFormatGray8
)

// PlaneCount reports how many planes a frame in this format carries.
func (f PixelFormat) PlaneCount() int {
	switch f {
	case PixelFormatYUV420P, PixelFormatYUV422P, PixelFormatYUV444P:
		return 3
	case PixelFormatNV12:
		return 2
	case PixelFormatRGB24, PixelFormatGray8:
		return 1
	default:
		return 0
	}
}

// Linesize reports the byte width of one row of the given plane for an
// image width pixels wide, or 0 when the plane does not exist. Chroma
// dimensions round up for odd sizes.
func (f PixelFormat) Linesize(plane, width int) int {
	if plane < 0 || plane >= f.PlaneCount() || width <= 0 {
		return 0
	}
	switch f {
	case PixelFormatYUV420P, PixelFormatYUV422P:
		if plane > 0 {
			return (width + 1) / 2
		}
		return width
	case PixelFormatYUV444P, PixelFormatGray8:
		return width
	case PixelFormatNV12:
		if plane > 0 {
			return 2 * ((width + 1) / 2)
		}
		return width
	case PixelFormatRGB24:
		return 3 * width
	default:
		return 0
	}
}

// PlaneHeight reports the row count of the given plane for an image height
// pixels tall, or 0 when the plane does not exist.
func (f PixelFormat) PlaneHeight(plane, height int) int {
	if plane < 0 || plane >= f.PlaneCount() || height <= 0 {
		return 0
	}
	switch f {
	case PixelFormatYUV420P, PixelFormatNV12:
		if plane > 0 {
			return (height + 1) / 2
		}
		return height
	default:
		return height
	}
}

// FrameSize reports the byte size of one tightly packed frame, or 0 when
// the format or dimensions are unusable.
func (f PixelFormat) FrameSize(width, height int) int {
	total := 0
	for p := 0; p < f.PlaneCount(); p++ {
		total += f.Linesize(p, width) * f.PlaneHeight(p, height)
	}
	return total
}

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatYUV420P:
		return "yuv420p"
	case PixelFormatYUV422P:
		return "yuv422p"
	case PixelFormatYUV444P:
		return "yuv444p"
	case PixelFormatNV12:
		return "nv12"
	case PixelFormatRGB24:
		return "rgb24"
	case PixelFormatGray8:
		return "gray8"
	default:
		return "none"
	}
}
