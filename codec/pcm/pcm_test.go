package pcm

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/mireska/weir/codec"
	"github.com/mireska/weir/media"
)

func testHost(alloc media.Allocator) codec.Host {
	if alloc == nil {
		alloc = media.DefaultAllocator
	}
	return codec.Host{
		Log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Alloc: alloc,
	}
}

func openDecoder(t *testing.T, params codec.Parameters, alloc media.Allocator) *Decoder {
	t.Helper()
	d := &Decoder{id: params.CodecID}
	if err := d.Open(&params, testHost(alloc)); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return d
}

func s16Params(rate, channels int) codec.Parameters {
	return codec.Parameters{
		CodecID:    media.CodecPCMS16LE,
		SampleRate: rate,
		Channels:   channels,
		TimeBase:   media.NewRational(1, rate),
	}
}

func pkt(t *testing.T, payload []byte, pts int64) *media.Packet {
	t.Helper()
	return media.NewPacket(media.DefaultAllocator, payload, media.PacketParams{
		PTS:      pts,
		DTS:      pts,
		TimeBase: media.NewRational(1, 48000),
	})
}

func TestZeroLookahead(t *testing.T) {
	t.Parallel()

	d := openDecoder(t, s16Params(48000, 2), nil)

	payload := make([]byte, 8*4) // 8 stereo samples
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := d.SendPacket(pkt(t, payload, 0)); err != nil {
		t.Fatalf("SendPacket: %v", err)
	}

	f, err := d.ReceiveFrame()
	if err != nil {
		t.Fatalf("ReceiveFrame: %v", err)
	}
	af := f.(*media.AudioFrame)
	if af.NumSamples() != 8 {
		t.Errorf("NumSamples = %d, want 8", af.NumSamples())
	}
	if !bytes.Equal(af.Data(0), payload) {
		t.Error("frame bytes differ from packet payload")
	}
	af.Release()

	// One in, one out: a second drain needs more input.
	if _, err := d.ReceiveFrame(); !errors.Is(err, media.ErrAgain) {
		t.Errorf("ReceiveFrame on empty = %v, want ErrAgain", err)
	}
}

func TestBusyUntilDrained(t *testing.T) {
	t.Parallel()

	d := openDecoder(t, s16Params(48000, 1), nil)

	first := pkt(t, make([]byte, 16), 0)
	second := pkt(t, make([]byte, 16), 8)
	if err := d.SendPacket(first); err != nil {
		t.Fatalf("SendPacket: %v", err)
	}
	if err := d.SendPacket(second); !errors.Is(err, media.ErrAgain) {
		t.Fatalf("SendPacket while full = %v, want ErrAgain", err)
	}
	f, err := d.ReceiveFrame()
	if err != nil {
		t.Fatalf("ReceiveFrame: %v", err)
	}
	f.Release()
	// The rejected packet was not consumed and goes through now.
	if err := d.SendPacket(second); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	f, err = d.ReceiveFrame()
	if err != nil {
		t.Fatalf("ReceiveFrame: %v", err)
	}
	if got := f.PTS(); got != 8 {
		t.Errorf("second frame PTS = %d, want 8", got)
	}
	f.Release()
}

func TestTransforms(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		id     media.CodecID
		format media.SampleFormat
		in     []byte
		want   []byte
	}{
		{
			name:   "u8 passthrough",
			id:     media.CodecPCMU8,
			format: media.SampleFormatU8,
			in:     []byte{0x00, 0x80, 0xFF},
			want:   []byte{0x00, 0x80, 0xFF},
		},
		{
			name:   "s8 rebiased to unsigned",
			id:     media.CodecPCMS8,
			format: media.SampleFormatU8,
			in:     []byte{0x00, 0x80, 0x7F},
			want:   []byte{0x80, 0x00, 0xFF},
		},
		{
			name:   "s16be swaps to native order",
			id:     media.CodecPCMS16BE,
			format: media.SampleFormatS16,
			in:     []byte{0x12, 0x34, 0x80, 0x01},
			want:   []byte{0x34, 0x12, 0x01, 0x80},
		},
		{
			name:   "s24le widens with sign extension",
			id:     media.CodecPCMS24LE,
			format: media.SampleFormatS32,
			in:     []byte{0x56, 0x34, 0x12, 0x00, 0x00, 0x80, 0xFF, 0xFF, 0xFF},
			want: []byte{
				0x56, 0x34, 0x12, 0x00,
				0x00, 0x00, 0x80, 0xFF,
				0xFF, 0xFF, 0xFF, 0xFF,
			},
		},
		{
			name:   "s24be widens with sign extension",
			id:     media.CodecPCMS24BE,
			format: media.SampleFormatS32,
			in:     []byte{0x12, 0x34, 0x56, 0xFF, 0x80, 0x00},
			want: []byte{
				0x56, 0x34, 0x12, 0x00,
				0x00, 0x80, 0xFF, 0xFF,
			},
		},
		{
			name:   "s32be swaps to native order",
			id:     media.CodecPCMS32BE,
			format: media.SampleFormatS32,
			in:     []byte{0x12, 0x34, 0x56, 0x78},
			want:   []byte{0x78, 0x56, 0x34, 0x12},
		},
		{
			name:   "f32le passthrough",
			id:     media.CodecPCMF32LE,
			format: media.SampleFormatF32,
			in:     []byte{0x00, 0x00, 0x80, 0x3F},
			want:   []byte{0x00, 0x00, 0x80, 0x3F},
		},
		{
			name:   "f32be swaps to native order",
			id:     media.CodecPCMF32BE,
			format: media.SampleFormatF32,
			in:     []byte{0x3F, 0x80, 0x00, 0x00},
			want:   []byte{0x00, 0x00, 0x80, 0x3F},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d := openDecoder(t, codec.Parameters{
				CodecID:    tc.id,
				SampleRate: 8000,
				Channels:   1,
			}, nil)
			if err := d.SendPacket(pkt(t, tc.in, 0)); err != nil {
				t.Fatalf("SendPacket: %v", err)
			}
			f, err := d.ReceiveFrame()
			if err != nil {
				t.Fatalf("ReceiveFrame: %v", err)
			}
			af := f.(*media.AudioFrame)
			if af.SampleFormat() != tc.format {
				t.Errorf("SampleFormat = %v, want %v", af.SampleFormat(), tc.format)
			}
			if !bytes.Equal(af.Data(0), tc.want) {
				t.Errorf("Data = % X, want % X", af.Data(0), tc.want)
			}
			af.Release()
		})
	}
}

func TestFrameSizeRechunks(t *testing.T) {
	t.Parallel()

	params := s16Params(48000, 1)
	params.FrameSize = 4
	d := openDecoder(t, params, nil)

	// Two 6-sample packets come out as three 4-sample frames.
	src := make([]byte, 24)
	for i := range src {
		src[i] = byte(i)
	}
	if err := d.SendPacket(pkt(t, src[:12], 0)); err != nil {
		t.Fatalf("SendPacket: %v", err)
	}

	f1, err := d.ReceiveFrame()
	if err != nil {
		t.Fatalf("frame 1: %v", err)
	}
	if _, err := d.ReceiveFrame(); !errors.Is(err, media.ErrAgain) {
		t.Fatalf("partial block should need input, got %v", err)
	}
	if err := d.SendPacket(pkt(t, src[12:], 6)); err != nil {
		t.Fatalf("SendPacket: %v", err)
	}
	f2, err := d.ReceiveFrame()
	if err != nil {
		t.Fatalf("frame 2: %v", err)
	}
	f3, err := d.ReceiveFrame()
	if err != nil {
		t.Fatalf("frame 3: %v", err)
	}

	var got []byte
	for i, f := range []media.Frame{f1, f2, f3} {
		af := f.(*media.AudioFrame)
		if af.NumSamples() != 4 {
			t.Errorf("frame %d NumSamples = %d, want 4", i, af.NumSamples())
		}
		if want := int64(i * 4); af.PTS() != want {
			t.Errorf("frame %d PTS = %d, want %d", i, af.PTS(), want)
		}
		got = append(got, af.Data(0)...)
		af.Release()
	}
	if !bytes.Equal(got, src) {
		t.Error("rechunked bytes differ from source")
	}
}

func TestFlushDrainsRemainder(t *testing.T) {
	t.Parallel()

	params := s16Params(48000, 1)
	params.FrameSize = 4
	d := openDecoder(t, params, nil)

	if err := d.SendPacket(pkt(t, make([]byte, 12), 0)); err != nil {
		t.Fatalf("SendPacket: %v", err)
	}
	f, err := d.ReceiveFrame()
	if err != nil {
		t.Fatalf("full frame: %v", err)
	}
	f.Release()

	if err := d.SendPacket(nil); err != nil {
		t.Fatalf("flush: %v", err)
	}
	f, err = d.ReceiveFrame()
	if err != nil {
		t.Fatalf("tail frame: %v", err)
	}
	af := f.(*media.AudioFrame)
	if af.NumSamples() != 2 {
		t.Errorf("tail NumSamples = %d, want 2", af.NumSamples())
	}
	if af.PTS() != 4 {
		t.Errorf("tail PTS = %d, want 4", af.PTS())
	}
	af.Release()

	for i := 0; i < 3; i++ {
		if _, err := d.ReceiveFrame(); !errors.Is(err, io.EOF) {
			t.Fatalf("drained ReceiveFrame #%d = %v, want io.EOF", i, err)
		}
	}
}

func TestOpenValidation(t *testing.T) {
	t.Parallel()

	host := testHost(nil)

	d := &Decoder{id: media.CodecPCMS16LE}
	bad := s16Params(0, 2)
	if err := d.Open(&bad, host); !errors.Is(err, media.ErrInvalidParameters) {
		t.Errorf("zero rate = %v, want ErrInvalidParameters", err)
	}

	mismatch := s16Params(48000, 2)
	mismatch.CodecID = media.CodecFLAC
	if err := d.Open(&mismatch, host); !errors.Is(err, media.ErrInvalidParameters) {
		t.Errorf("codec mismatch = %v, want ErrInvalidParameters", err)
	}

	// A failed Open leaves the decoder reusable.
	good := s16Params(48000, 2)
	if err := d.Open(&good, host); err != nil {
		t.Errorf("Open after failures: %v", err)
	}
}

func TestMisalignedPacketRejected(t *testing.T) {
	t.Parallel()

	d := openDecoder(t, s16Params(48000, 2), nil)
	err := d.SendPacket(pkt(t, make([]byte, 7), 0))
	if err == nil || errors.Is(err, media.ErrAgain) {
		t.Fatalf("misaligned packet = %v, want hard error", err)
	}
}

func TestResetClearsBufferedInput(t *testing.T) {
	t.Parallel()

	d := openDecoder(t, s16Params(48000, 1), nil)
	if err := d.SendPacket(pkt(t, make([]byte, 16), 100)); err != nil {
		t.Fatalf("SendPacket: %v", err)
	}
	if err := d.SendPacket(nil); err != nil {
		t.Fatalf("flush: %v", err)
	}
	d.Reset()

	if _, err := d.ReceiveFrame(); !errors.Is(err, media.ErrAgain) {
		t.Fatalf("ReceiveFrame after Reset = %v, want ErrAgain", err)
	}
	if err := d.SendPacket(pkt(t, []byte{1, 0}, 0)); err != nil {
		t.Fatalf("SendPacket after Reset: %v", err)
	}
	f, err := d.ReceiveFrame()
	if err != nil {
		t.Fatalf("ReceiveFrame: %v", err)
	}
	if f.PTS() != 0 {
		t.Errorf("PTS after Reset = %d, want 0", f.PTS())
	}
	f.Release()
}

func TestFrameBuffersReturnToAllocator(t *testing.T) {
	t.Parallel()

	counting := media.NewCountingAllocator(nil)
	d := openDecoder(t, s16Params(48000, 2), counting)

	for i := 0; i < 5; i++ {
		if err := d.SendPacket(pkt(t, make([]byte, 64), int64(i*16))); err != nil {
			t.Fatalf("SendPacket: %v", err)
		}
		f, err := d.ReceiveFrame()
		if err != nil {
			t.Fatalf("ReceiveFrame: %v", err)
		}
		f.Release()
	}
	if counting.Gets() != counting.Puts() {
		t.Errorf("allocator gets %d != puts %d", counting.Gets(), counting.Puts())
	}
	if counting.Live() != 0 {
		t.Errorf("live buffers = %d, want 0", counting.Live())
	}
}

func TestRegisterCoversFamily(t *testing.T) {
	t.Parallel()

	var r codec.Registry
	Register(&r)
	for id := range descriptors {
		reg, err := r.Lookup(id)
		if err != nil {
			t.Errorf("Lookup(%s): %v", id, err)
			continue
		}
		if got := reg.New().CodecID(); got != id {
			t.Errorf("New(%s).CodecID = %s", id, got)
		}
	}
}
