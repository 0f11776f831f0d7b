// Package flac decodes native FLAC frames.
//
// Each packet must carry exactly one frame, sync code through CRC-16
// footer, which is how the flac demuxer carves them. All four subframe
// types decode (constant, verbatim, fixed prediction and LPC) along with
// the left/side, right/side and mid/side stereo modes. Output is
// interleaved U8, S16 or S32 depending on the frame's bit depth. Frame
// CRCs are checked but mismatches only log; the bitstream structure is
// what decides whether a frame is usable.
package flac

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mireska/weir/codec"
	"github.com/mireska/weir/internal/bits"
	"github.com/mireska/weir/media"
)

const syncCode = 0x3FFE // 14 bits

// Channel assignments from the frame header.
const (
	assignIndependent = iota
	assignLeftSide
	assignRightSide
	assignMidSide
)

var sampleRates = [12]int{0, 88200, 176400, 192000, 8000, 16000, 22050, 24000, 32000, 44100, 48000, 96000}

var sampleSizes = [8]int{0, 8, 12, 0, 16, 20, 24, 32}

// Register adds the FLAC decoder to r.
func Register(r *codec.Registry) {
	r.Register(codec.Registration{
		ID:   media.CodecFLAC,
		Name: "flac",
		New:  func() codec.Decoder { return &Decoder{} },
	})
}

// Decoder turns FLAC frames into audio frames. One packet in is one
// frame out; there is no lookahead and flushing drains nothing extra.
type Decoder struct {
	log   *slog.Logger
	alloc media.Allocator

	sampleRate int
	channels   int
	layout     media.ChannelLayout
	bps        int
	timeBase   media.Rational

	chans    [][]int32 // per-channel decode scratch, reused across frames
	pending  media.Frame
	flushing bool
}

func (d *Decoder) CodecID() media.CodecID { return media.CodecFLAC }
func (d *Decoder) Name() string           { return "flac" }

func (d *Decoder) Open(params *codec.Parameters, host codec.Host) error {
	if params.CodecID != media.CodecFLAC {
		return fmt.Errorf("flac: parameters are for %s: %w", params.CodecID, media.ErrInvalidParameters)
	}
	if err := params.ValidateAudio(); err != nil {
		return err
	}
	d.log = host.Log
	d.alloc = host.Alloc
	d.sampleRate = params.SampleRate
	d.channels = params.ChannelCount()
	d.layout = params.ChannelLayout
	d.bps = streamBits(params)
	d.timeBase = params.TimeBase
	if !d.timeBase.IsValid() {
		d.timeBase = media.NewRational(1, d.sampleRate)
	}
	d.Reset()
	return nil
}

// streamBits resolves the stream bit depth. STREAMINFO is authoritative
// when present; otherwise the declared depth, then the sample format.
func streamBits(params *codec.Parameters) int {
	if len(params.ExtraData) >= 34 {
		return (int(params.ExtraData[12]&0x01)<<4 | int(params.ExtraData[13]>>4)) + 1
	}
	if params.BitsPerSample > 0 {
		return params.BitsPerSample
	}
	switch params.SampleFormat {
	case media.SampleFormatU8:
		return 8
	case media.SampleFormatS32:
		return 24
	default:
		return 16
	}
}

func (d *Decoder) SendPacket(pkt *media.Packet) error {
	if pkt == nil {
		d.flushing = true
		return nil
	}
	if d.pending != nil {
		return media.ErrAgain
	}
	frame, err := d.decodeFrame(pkt.Data(), pkt.PTS())
	if err != nil {
		return err
	}
	d.pending = frame
	return nil
}

func (d *Decoder) ReceiveFrame() (media.Frame, error) {
	if d.pending != nil {
		f := d.pending
		d.pending = nil
		return f, nil
	}
	if d.flushing {
		return nil, io.EOF
	}
	return nil, media.ErrAgain
}

func (d *Decoder) Reset() {
	if d.pending != nil {
		d.pending.Release()
		d.pending = nil
	}
	d.flushing = false
}

type frameHeader struct {
	blockSize  int
	sampleRate int
	channels   int
	assignment int
	bps        int
}

func (d *Decoder) decodeFrame(data []byte, pts int64) (media.Frame, error) {
	if len(data) == 0 {
		return nil, errors.New("flac: empty packet")
	}
	br := bits.NewReader(data)
	hdr, err := d.parseHeader(br, data)
	if err != nil {
		return nil, err
	}
	if hdr.channels != d.channels {
		return nil, fmt.Errorf("flac: frame carries %d channels, stream declares %d", hdr.channels, d.channels)
	}

	chans := d.channelBuffers(hdr.channels, hdr.blockSize)
	for ch, buf := range chans {
		bps := hdr.bps
		if sideChannel(hdr.assignment, ch) {
			bps++ // the difference signal needs one extra bit
		}
		if err := decodeSubframe(br, buf, bps); err != nil {
			return nil, err
		}
	}
	if br.Overflow() {
		return nil, fmt.Errorf("flac: frame truncated after %d bytes", len(data))
	}
	decorrelate(hdr.assignment, chans)
	d.checkFooter(br, data)
	return d.emit(hdr, chans, pts)
}

func (d *Decoder) parseHeader(br *bits.Reader, data []byte) (frameHeader, error) {
	var hdr frameHeader
	if br.ReadUint32(14) != syncCode {
		return hdr, errors.New("flac: missing frame sync code")
	}
	if br.ReadBit() {
		return hdr, errors.New("flac: reserved bit set after sync code")
	}
	br.ReadBit() // blocking strategy, fixed per stream

	bsCode := int(br.ReadUint32(4))
	srCode := int(br.ReadUint32(4))
	chCode := int(br.ReadUint32(4))
	ssCode := int(br.ReadUint32(3))
	if br.ReadBit() {
		return hdr, errors.New("flac: reserved bit set in frame header")
	}
	if _, err := readCodedNumber(br); err != nil {
		return hdr, err
	}

	switch {
	case bsCode == 0:
		return hdr, errors.New("flac: reserved block size code")
	case bsCode == 1:
		hdr.blockSize = 192
	case bsCode <= 5:
		hdr.blockSize = 576 << uint(bsCode-2)
	case bsCode == 6:
		hdr.blockSize = int(br.ReadUint32(8)) + 1
	case bsCode == 7:
		hdr.blockSize = int(br.ReadUint32(16)) + 1
	default:
		hdr.blockSize = 256 << uint(bsCode-8)
	}

	switch srCode {
	case 0:
		hdr.sampleRate = d.sampleRate
	case 12:
		hdr.sampleRate = int(br.ReadUint32(8)) * 1000
	case 13:
		hdr.sampleRate = int(br.ReadUint32(16))
	case 14:
		hdr.sampleRate = int(br.ReadUint32(16)) * 10
	case 15:
		return hdr, errors.New("flac: invalid sample rate code")
	default:
		hdr.sampleRate = sampleRates[srCode]
	}
	if hdr.sampleRate == 0 {
		hdr.sampleRate = d.sampleRate
	}

	switch {
	case chCode <= 7:
		hdr.channels = chCode + 1
		hdr.assignment = assignIndependent
	case chCode == 8:
		hdr.channels, hdr.assignment = 2, assignLeftSide
	case chCode == 9:
		hdr.channels, hdr.assignment = 2, assignRightSide
	case chCode == 10:
		hdr.channels, hdr.assignment = 2, assignMidSide
	default:
		return hdr, fmt.Errorf("flac: reserved channel assignment %d", chCode)
	}

	switch ssCode {
	case 0:
		hdr.bps = d.bps
	case 3:
		return hdr, errors.New("flac: reserved sample size code")
	default:
		hdr.bps = sampleSizes[ssCode]
	}

	if br.Overflow() {
		return hdr, errors.New("flac: frame header truncated")
	}
	sum := bits.CRC8(data[:br.BytesRead()])
	if got := byte(br.ReadUint32(8)); got != sum {
		d.log.Warn("frame header crc mismatch", "stored", got, "computed", sum)
	}
	return hdr, nil
}

// readCodedNumber reads the UTF-8-style frame or sample number. The value
// restates the stream position, so it is parsed for length and dropped.
func readCodedNumber(br *bits.Reader) (uint64, error) {
	b := br.ReadUint32(8)
	var extra int
	switch {
	case b&0x80 == 0:
		return uint64(b), nil
	case b&0xE0 == 0xC0:
		extra, b = 1, b&0x1F
	case b&0xF0 == 0xE0:
		extra, b = 2, b&0x0F
	case b&0xF8 == 0xF0:
		extra, b = 3, b&0x07
	case b&0xFC == 0xF8:
		extra, b = 4, b&0x03
	case b&0xFE == 0xFC:
		extra, b = 5, b&0x01
	case b == 0xFE:
		extra, b = 6, 0
	default:
		return 0, errors.New("flac: malformed frame number")
	}
	v := uint64(b)
	for i := 0; i < extra; i++ {
		c := br.ReadUint32(8)
		if c&0xC0 != 0x80 {
			return 0, errors.New("flac: malformed frame number")
		}
		v = v<<6 | uint64(c&0x3F)
	}
	return v, nil
}

func sideChannel(assignment, ch int) bool {
	switch assignment {
	case assignLeftSide, assignMidSide:
		return ch == 1
	case assignRightSide:
		return ch == 0
	}
	return false
}

func decodeSubframe(br *bits.Reader, dst []int32, bps int) error {
	if br.ReadBit() {
		return errors.New("flac: subframe padding bit set")
	}
	typ := int(br.ReadUint32(6))
	wasted := 0
	if br.ReadBit() {
		wasted = br.ReadUnary() + 1
	}
	if wasted >= bps {
		return fmt.Errorf("flac: %d wasted bits leave no sample bits", wasted)
	}
	bps -= wasted

	switch {
	case typ == 0:
		v := int32(br.ReadSigned(bps))
		for i := range dst {
			dst[i] = v
		}
	case typ == 1:
		for i := range dst {
			dst[i] = int32(br.ReadSigned(bps))
		}
	case typ >= 8 && typ <= 12:
		if err := decodeFixed(br, dst, bps, typ-8); err != nil {
			return err
		}
	case typ >= 32:
		if err := decodeLPC(br, dst, bps, typ-31); err != nil {
			return err
		}
	default:
		return fmt.Errorf("flac: reserved subframe type %d", typ)
	}

	if wasted > 0 {
		for i := range dst {
			dst[i] <<= uint(wasted)
		}
	}
	return nil
}

func decodeFixed(br *bits.Reader, dst []int32, bps, order int) error {
	if order > len(dst) {
		return fmt.Errorf("flac: predictor order %d exceeds block size %d", order, len(dst))
	}
	for i := 0; i < order; i++ {
		dst[i] = int32(br.ReadSigned(bps))
	}
	if err := readResidual(br, dst, order); err != nil {
		return err
	}
	switch order {
	case 1:
		for i := 1; i < len(dst); i++ {
			dst[i] += dst[i-1]
		}
	case 2:
		for i := 2; i < len(dst); i++ {
			dst[i] += 2*dst[i-1] - dst[i-2]
		}
	case 3:
		for i := 3; i < len(dst); i++ {
			dst[i] += 3*dst[i-1] - 3*dst[i-2] + dst[i-3]
		}
	case 4:
		for i := 4; i < len(dst); i++ {
			dst[i] += 4*dst[i-1] - 6*dst[i-2] + 4*dst[i-3] - dst[i-4]
		}
	}
	return nil
}

func decodeLPC(br *bits.Reader, dst []int32, bps, order int) error {
	if order > len(dst) {
		return fmt.Errorf("flac: predictor order %d exceeds block size %d", order, len(dst))
	}
	for i := 0; i < order; i++ {
		dst[i] = int32(br.ReadSigned(bps))
	}
	precision := int(br.ReadUint32(4)) + 1
	if precision > 15 {
		return errors.New("flac: reserved coefficient precision")
	}
	shift := int(br.ReadSigned(5))
	var coefs [32]int64
	for i := 0; i < order; i++ {
		coefs[i] = br.ReadSigned(precision)
	}
	if err := readResidual(br, dst, order); err != nil {
		return err
	}
	for i := order; i < len(dst); i++ {
		var sum int64
		for j := 0; j < order; j++ {
			sum += coefs[j] * int64(dst[i-1-j])
		}
		if shift >= 0 {
			sum >>= uint(shift)
		} else {
			sum <<= uint(-shift)
		}
		dst[i] += int32(sum)
	}
	return nil
}

// readResidual fills dst[order:] with the partitioned Rice residuals.
func readResidual(br *bits.Reader, dst []int32, order int) error {
	method := int(br.ReadUint32(2))
	if method > 1 {
		return fmt.Errorf("flac: reserved residual coding method %d", method)
	}
	paramBits := 4 + method
	escape := 1<<uint(paramBits) - 1

	po := int(br.ReadUint32(4))
	blockSize := len(dst)
	count := blockSize >> uint(po)
	if count<<uint(po) != blockSize {
		return fmt.Errorf("flac: partition order %d does not divide block size %d", po, blockSize)
	}
	if count < order {
		return fmt.Errorf("flac: predictor order %d exceeds partition size %d", order, count)
	}

	i := order
	for p := 0; p < 1<<uint(po); p++ {
		n := count
		if p == 0 {
			n -= order
		}
		param := int(br.ReadUint32(paramBits))
		if param == escape {
			width := int(br.ReadUint32(5))
			for ; n > 0; n-- {
				dst[i] = int32(br.ReadSigned(width))
				i++
			}
			continue
		}
		for ; n > 0; n-- {
			q := uint64(br.ReadUnary())
			u := q<<uint(param) | br.ReadUint64(param)
			v := int32(u >> 1)
			if u&1 != 0 {
				v = -v - 1
			}
			dst[i] = v
			i++
		}
	}
	return nil
}

func decorrelate(assignment int, chans [][]int32) {
	if len(chans) != 2 {
		return
	}
	a, b := chans[0], chans[1]
	switch assignment {
	case assignLeftSide: // a is left, b is left minus right
		for i := range b {
			b[i] = a[i] - b[i]
		}
	case assignRightSide: // a is left minus right, b is right
		for i := range a {
			a[i] += b[i]
		}
	case assignMidSide:
		for i := range a {
			mid := int64(a[i])<<1 | int64(b[i])&1
			side := int64(b[i])
			a[i] = int32((mid + side) >> 1)
			b[i] = int32((mid - side) >> 1)
		}
	}
}

// checkFooter verifies the frame CRC-16 when the packet reaches it.
func (d *Decoder) checkFooter(br *bits.Reader, data []byte) {
	br.AlignToByte()
	end := br.BytesRead()
	if end+2 > len(data) {
		return
	}
	stored := binary.BigEndian.Uint16(data[end:])
	if sum := bits.CRC16(data[:end]); sum != stored {
		d.log.Warn("frame crc mismatch", "stored", stored, "computed", sum)
	}
}

func (d *Decoder) emit(hdr frameHeader, chans [][]int32, pts int64) (media.Frame, error) {
	format := media.SampleFormatS32
	switch {
	case hdr.bps <= 8:
		format = media.SampleFormatU8
	case hdr.bps <= 16:
		format = media.SampleFormatS16
	}
	frame, err := media.NewAudioFrame(d.alloc, media.AudioFrameParams{
		NumSamples:    hdr.blockSize,
		SampleRate:    hdr.sampleRate,
		SampleFormat:  format,
		ChannelLayout: d.layout,
		Channels:      d.channels,
		PTS:           pts,
		TimeBase:      d.timeBase,
	})
	if err != nil {
		return nil, err
	}

	out := frame.Data(0)
	k := 0
	switch format {
	case media.SampleFormatU8:
		for i := 0; i < hdr.blockSize; i++ {
			for _, c := range chans {
				out[k] = clampU8(c[i])
				k++
			}
		}
	case media.SampleFormatS16:
		for i := 0; i < hdr.blockSize; i++ {
			for _, c := range chans {
				binary.LittleEndian.PutUint16(out[k:], uint16(clampS16(c[i])))
				k += 2
			}
		}
	default:
		for i := 0; i < hdr.blockSize; i++ {
			for _, c := range chans {
				binary.LittleEndian.PutUint32(out[k:], uint32(c[i]))
				k += 4
			}
		}
	}
	return frame, nil
}

func (d *Decoder) channelBuffers(channels, blockSize int) [][]int32 {
	if cap(d.chans) < channels {
		d.chans = make([][]int32, channels)
	}
	d.chans = d.chans[:channels]
	for i := range d.chans {
		if cap(d.chans[i]) < blockSize {
			d.chans[i] = make([]int32, blockSize)
		}
		d.chans[i] = d.chans[i][:blockSize]
	}
	return d.chans
}

func clampU8(v int32) byte {
	v += 128
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

func clampS16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
