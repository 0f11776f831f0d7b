package aiff

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/mireska/weir/format"
	"github.com/mireska/weir/media"
)

func testHost() format.Host {
	return format.Host{
		Log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Alloc: media.DefaultAllocator,
	}
}

func be16(b *bytes.Buffer, v uint16) { b.Write(binary.BigEndian.AppendUint16(nil, v)) }
func be32(b *bytes.Buffer, v uint32) { b.Write(binary.BigEndian.AppendUint32(nil, v)) }

// encodeExtended is the inverse of parseExtended, for building headers.
func encodeExtended(v float64) [10]byte {
	var b [10]byte
	if v == 0 {
		return b
	}
	exp := int(math.Floor(math.Log2(v)))
	mant := uint64(math.Ldexp(v, 63-exp))
	e := uint16(exp + 16383)
	b[0] = byte(e >> 8)
	b[1] = byte(e)
	binary.BigEndian.PutUint64(b[2:], mant)
	return b
}

type aiffOpts struct {
	aifc        bool
	compression string // 4 chars, AIFC only
	leadChunk   []byte // raw chunk inserted before COMM
	ssndOffset  uint32
}

func buildAIFF(channels, rate, bits int, data []byte, opts aiffOpts) []byte {
	blockAlign := channels * bits / 8
	frames := 0
	if blockAlign > 0 {
		frames = len(data) / blockAlign
	}

	var body bytes.Buffer
	if opts.aifc {
		body.WriteString("AIFC")
	} else {
		body.WriteString("AIFF")
	}
	body.Write(opts.leadChunk)

	commSize := uint32(18)
	if opts.compression != "" {
		commSize += 4
	}
	body.WriteString("COMM")
	be32(&body, commSize)
	be16(&body, uint16(channels))
	be32(&body, uint32(frames))
	be16(&body, uint16(bits))
	sr := encodeExtended(float64(rate))
	body.Write(sr[:])
	if opts.compression != "" {
		body.WriteString(opts.compression)
	}

	body.WriteString("SSND")
	be32(&body, uint32(8+int(opts.ssndOffset)+len(data)))
	be32(&body, opts.ssndOffset)
	be32(&body, 0)
	body.Write(make([]byte, opts.ssndOffset))
	body.Write(data)

	var b bytes.Buffer
	b.WriteString("FORM")
	be32(&b, uint32(body.Len()))
	b.Write(body.Bytes())
	return b.Bytes()
}

func openAIFF(t *testing.T, file []byte) (*Demuxer, *format.Reader) {
	t.Helper()
	d := New()
	r := format.NewReader(bytes.NewReader(file))
	if err := d.Open(r, testHost()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return d, r
}

func TestProbe(t *testing.T) {
	t.Parallel()

	if got := probe(buildAIFF(1, 44100, 16, nil, aiffOpts{}), ""); got != format.ScoreMax {
		t.Errorf("probe(AIFF) = %d, want %d", got, format.ScoreMax)
	}
	if got := probe(buildAIFF(1, 44100, 16, nil, aiffOpts{aifc: true, compression: "NONE"}), ""); got != format.ScoreMax {
		t.Errorf("probe(AIFC) = %d, want %d", got, format.ScoreMax)
	}
	if got := probe([]byte("FORMxxxxJUNK"), ""); got != 0 {
		t.Errorf("probe(non-AIFF FORM) = %d, want 0", got)
	}
}

func TestExtendedRateRoundTrip(t *testing.T) {
	t.Parallel()

	for _, rate := range []float64{7350, 8000, 11025, 22050, 44100, 48000, 96000, 192000} {
		got := parseExtended(encodeExtended(rate))
		if got != rate {
			t.Errorf("round trip %v -> %v", rate, got)
		}
	}
	if got := parseExtended([10]byte{}); got != 0 {
		t.Errorf("parseExtended(zero) = %v, want 0", got)
	}
}

func TestOpenParsesCOMM(t *testing.T) {
	t.Parallel()

	data := make([]byte, 44100*4)
	d, _ := openAIFF(t, buildAIFF(2, 44100, 16, data, aiffOpts{}))

	s := d.Streams()[0]
	if s.CodecID != media.CodecPCMS16BE {
		t.Errorf("CodecID = %v, want pcm_s16be", s.CodecID)
	}
	if s.SampleRate != 44100 || s.Channels != 2 || s.BitsPerSample != 16 {
		t.Errorf("params = %d Hz %d ch %d bits", s.SampleRate, s.Channels, s.BitsPerSample)
	}
	if s.Duration != 44100 {
		t.Errorf("Duration = %d frames, want 44100", s.Duration)
	}
	if dur, ok := d.Duration(); !ok || dur != time.Second {
		t.Errorf("Duration() = %v, %v, want 1s", dur, ok)
	}
}

func TestCompressionVariants(t *testing.T) {
	t.Parallel()

	cases := []struct {
		compression string
		bits        int
		want        media.CodecID
	}{
		{"NONE", 8, media.CodecPCMS8},
		{"NONE", 24, media.CodecPCMS24BE},
		{"NONE", 32, media.CodecPCMS32BE},
		{"sowt", 16, media.CodecPCMS16LE},
		{"fl32", 32, media.CodecPCMF32BE},
	}
	for _, tc := range cases {
		file := buildAIFF(1, 8000, tc.bits, make([]byte, 64), aiffOpts{aifc: true, compression: tc.compression})
		d, _ := openAIFF(t, file)
		if got := d.Streams()[0].CodecID; got != tc.want {
			t.Errorf("%s %d-bit: CodecID = %v, want %v", tc.compression, tc.bits, got, tc.want)
		}
	}

	bad := buildAIFF(1, 8000, 16, nil, aiffOpts{aifc: true, compression: "ulaw"})
	if err := New().Open(format.NewReader(bytes.NewReader(bad)), testHost()); !errors.Is(err, media.ErrUnsupported) {
		t.Errorf("ulaw compression = %v, want ErrUnsupported", err)
	}
}

func TestReadPacketsByteConservation(t *testing.T) {
	t.Parallel()

	const frames = 5000
	data := make([]byte, frames*2)
	for i := range data {
		data[i] = byte(i)
	}
	d, r := openAIFF(t, buildAIFF(1, 48000, 16, data, aiffOpts{}))

	var got []byte
	var pts []int64
	for {
		pkt, err := d.ReadPacket(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadPacket: %v", err)
		}
		got = append(got, pkt.Data()...)
		pts = append(pts, pkt.PTS())
		pkt.Release()
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("demuxed bytes differ from source: %d vs %d", len(got), len(data))
	}
	if want := []int64{0, 4096}; len(pts) != 2 || pts[0] != want[0] || pts[1] != want[1] {
		t.Errorf("PTS sequence = %v, want %v", pts, want)
	}
	if _, err := d.ReadPacket(r); !errors.Is(err, io.EOF) {
		t.Errorf("ReadPacket after EOF = %v, want io.EOF", err)
	}
}

func TestSSNDOffsetRespected(t *testing.T) {
	t.Parallel()

	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	d, r := openAIFF(t, buildAIFF(1, 8000, 16, data, aiffOpts{ssndOffset: 16}))

	pkt, err := d.ReadPacket(r)
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if !bytes.Equal(pkt.Data(), data) {
		t.Errorf("payload = %v, want %v", pkt.Data(), data)
	}
	pkt.Release()
}

func TestUnknownChunkSkipped(t *testing.T) {
	t.Parallel()

	// An odd-sized annotation chunk, padded to even.
	var lead bytes.Buffer
	lead.WriteString("ANNO")
	be32(&lead, 3)
	lead.Write([]byte{'h', 'i', '!', 0})

	data := []byte{9, 9, 9, 9}
	d, r := openAIFF(t, buildAIFF(1, 8000, 16, data, aiffOpts{leadChunk: lead.Bytes()}))
	pkt, err := d.ReadPacket(r)
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if !bytes.Equal(pkt.Data(), data) {
		t.Errorf("payload = %v, want %v", pkt.Data(), data)
	}
	pkt.Release()
}

func TestSeekSampleAccurate(t *testing.T) {
	t.Parallel()

	const frames = 9000
	data := make([]byte, frames*2)
	for i := range data {
		data[i] = byte(i / 2)
	}
	d, r := openAIFF(t, buildAIFF(1, 16000, 16, data, aiffOpts{}))

	if err := d.Seek(r, 0, 5000); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	pkt, err := d.ReadPacket(r)
	if err != nil {
		t.Fatalf("ReadPacket after Seek: %v", err)
	}
	if pkt.PTS() != 5000 {
		t.Errorf("PTS after Seek = %d, want 5000", pkt.PTS())
	}
	if got := pkt.Data()[0]; got != byte(5000) {
		t.Errorf("first byte = %d, want %d", got, byte(5000))
	}
	pkt.Release()
}

func TestOpenRejectsMalformed(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		file []byte
	}{
		{"not FORM", []byte("NOT_FORM_DATA_HERE")},
		{"SSND before COMM", func() []byte {
			var b bytes.Buffer
			b.WriteString("FORM")
			be32(&b, 12)
			b.WriteString("AIFF")
			b.WriteString("SSND")
			be32(&b, 8)
			be32(&b, 0)
			be32(&b, 0)
			return b.Bytes()
		}()},
		{"no SSND", func() []byte {
			file := buildAIFF(1, 8000, 16, nil, aiffOpts{})
			return file[:len(file)-16] // drop the SSND chunk
		}()},
	}
	for _, tc := range cases {
		if err := New().Open(format.NewReader(bytes.NewReader(tc.file)), testHost()); err == nil {
			t.Errorf("%s: Open succeeded", tc.name)
		}
	}
}
