// Package media defines the core types that flow through a weir pipeline:
// stream and codec identifiers, the compressed Packet produced by demuxers,
// the raw Frame produced by decoders, and the Allocator that owns their
// buffers.
//
// Flow control uses error values rather than status codes: io.EOF marks a
// fully drained source or decoder, ErrAgain means the call cannot make
// progress until the caller drains pending output or supplies more input,
// and everything else is a real failure. See Packet and Frame for the
// buffer ownership rules.
package media

// MediaType classifies a stream by the kind of payload it carries.
type MediaType int

// Media types. The numeric values are stable; they appear in probe output
// and stream dumps.
const (
	MediaTypeUnknown MediaType = iota
	MediaTypeAudio
	MediaTypeVideo
	MediaTypeSubtitle
	MediaTypeData
)

func (t MediaType) String() string {
	switch t {
	case MediaTypeAudio:
		return "audio"
	case MediaTypeVideo:
		return "video"
	case MediaTypeSubtitle:
		return "subtitle"
	case MediaTypeData:
		return "data"
	default:
		return "unknown"
	}
}

// CodecID identifies how a stream's payload is encoded, independent of the
// container it was stored in.
type CodecID int

const (
	CodecNone CodecID = iota

	// Audio.
	CodecPCMU8
	CodecPCMS8
	CodecPCMS16LE
	CodecPCMS16BE
	CodecPCMS24LE
	CodecPCMS24BE
	CodecPCMS32LE
	CodecPCMS32BE
	CodecPCMF32LE
	CodecPCMF32BE
	CodecFLAC
	CodecAAC
	CodecMP3
	CodecOpus
	CodecVorbis

	// Video.
	CodecH264
	CodecH265
	CodecRawVideo
)

// MediaType reports whether the codec carries audio or video.
func (id CodecID) MediaType() MediaType {
	switch id {
	case CodecPCMU8, CodecPCMS8, CodecPCMS16LE, CodecPCMS16BE,
		CodecPCMS24LE, CodecPCMS24BE, CodecPCMS32LE, CodecPCMS32BE,
		CodecPCMF32LE, CodecPCMF32BE, CodecFLAC, CodecAAC, CodecMP3,
		CodecOpus, CodecVorbis:
		return MediaTypeAudio
	case CodecH264, CodecH265, CodecRawVideo:
		return MediaTypeVideo
	default:
		return MediaTypeUnknown
	}
}

func (id CodecID) String() string {
	switch id {
	case CodecPCMU8:
		return "pcm_u8"
	case CodecPCMS8:
		return "pcm_s8"
	case CodecPCMS16LE:
		return "pcm_s16le"
	case CodecPCMS16BE:
		return "pcm_s16be"
	case CodecPCMS24LE:
		return "pcm_s24le"
	case CodecPCMS24BE:
		return "pcm_s24be"
	case CodecPCMS32LE:
		return "pcm_s32le"
	case CodecPCMS32BE:
		return "pcm_s32be"
	case CodecPCMF32LE:
		return "pcm_f32le"
	case CodecPCMF32BE:
		return "pcm_f32be"
	case CodecFLAC:
		return "flac"
	case CodecAAC:
		return "aac"
	case CodecMP3:
		return "mp3"
	case CodecOpus:
		return "opus"
	case CodecVorbis:
		return "vorbis"
	case CodecH264:
		return "h264"
	case CodecH265:
		return "h265"
	case CodecRawVideo:
		return "rawvideo"
	default:
		return "none"
	}
}

// FormatID identifies a container format.
type FormatID int

const (
	FormatNone FormatID = iota
	FormatWAV
	FormatAIFF
	FormatFLAC
	FormatADTS
	FormatMP3
	FormatMPEGTS
)

func (id FormatID) String() string {
	switch id {
	case FormatWAV:
		return "wav"
	case FormatAIFF:
		return "aiff"
	case FormatFLAC:
		return "flac"
	case FormatADTS:
		return "adts"
	case FormatMP3:
		return "mp3"
	case FormatMPEGTS:
		return "mpegts"
	default:
		return "none"
	}
}
