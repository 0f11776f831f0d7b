package codec

import (
	"errors"
	"io"
	"testing"

	"github.com/mireska/weir/media"
)

// stubDecoder is a minimal zero-lookahead decoder: every packet becomes
// exactly one frame, held in a one-slot output buffer. A payload starting
// with 0xBB fails decoding.
type stubDecoder struct {
	params  Parameters
	host    Host
	pending media.Frame
	flushed bool
}

func (d *stubDecoder) CodecID() media.CodecID { return media.CodecPCMS16LE }
func (d *stubDecoder) Name() string           { return "stub" }

func (d *stubDecoder) Open(p *Parameters, host Host) error {
	if err := p.ValidateAudio(); err != nil {
		return err
	}
	d.params = *p
	d.host = host
	return nil
}

func (d *stubDecoder) SendPacket(pkt *media.Packet) error {
	if pkt == nil {
		d.flushed = true
		return nil
	}
	if d.pending != nil {
		return media.ErrAgain
	}
	data := pkt.Data()
	if len(data) > 0 && data[0] == 0xBB {
		return errors.New("stub: bad payload")
	}
	frame, err := media.NewAudioFrame(d.host.Alloc, media.AudioFrameParams{
		NumSamples:   pkt.Size() / 4,
		SampleRate:   d.params.SampleRate,
		SampleFormat: media.SampleFormatS16,
		Channels:     d.params.ChannelCount(),
		PTS:          pkt.PTS(),
		TimeBase:     pkt.TimeBase(),
	})
	if err != nil {
		return err
	}
	d.pending = frame
	return nil
}

func (d *stubDecoder) ReceiveFrame() (media.Frame, error) {
	if d.pending != nil {
		frame := d.pending
		d.pending = nil
		return frame, nil
	}
	if d.flushed {
		return nil, io.EOF
	}
	return nil, media.ErrAgain
}

func (d *stubDecoder) Reset() {
	d.pending = nil
	d.flushed = false
}

func stubRegistry() *Registry {
	r := &Registry{}
	r.Register(Registration{
		ID:   media.CodecPCMS16LE,
		Name: "stub",
		New:  func() Decoder { return &stubDecoder{} },
	})
	return r
}

func stubParams(stream int) *Parameters {
	return &Parameters{
		CodecID:     media.CodecPCMS16LE,
		StreamIndex: stream,
		SampleRate:  44100,
		Channels:    2,
		TimeBase:    media.NewRational(1, 44100),
	}
}

func stubPacket(t *testing.T, stream int, payload []byte) *media.Packet {
	t.Helper()
	return media.NewPacket(nil, payload, media.PacketParams{
		StreamIndex: stream,
		TimeBase:    media.NewRational(1, 44100),
	})
}

func TestContextLifecycle(t *testing.T) {
	t.Parallel()

	ctx, err := NewContext(media.CodecPCMS16LE, WithRegistry(stubRegistry()))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	if got := ctx.State(); got != StateCreated {
		t.Fatalf("state = %v, want created", got)
	}
	if got := ctx.StreamIndex(); got != -1 {
		t.Fatalf("StreamIndex before open = %d, want -1", got)
	}

	if err := ctx.Open(stubParams(0)); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := ctx.State(); got != StateOpened {
		t.Fatalf("state = %v, want opened", got)
	}
	if err := ctx.Open(stubParams(0)); !errors.Is(err, ErrAlreadyOpen) {
		t.Fatalf("second Open = %v, want ErrAlreadyOpen", err)
	}

	pkt := stubPacket(t, 0, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	if err := ctx.SendPacket(pkt); err != nil {
		t.Fatalf("SendPacket: %v", err)
	}
	frame, err := ctx.ReceiveFrame()
	if err != nil {
		t.Fatalf("ReceiveFrame: %v", err)
	}
	if err := frame.Release(); err != nil {
		t.Fatalf("frame Release: %v", err)
	}
	if _, err := ctx.ReceiveFrame(); !errors.Is(err, media.ErrAgain) {
		t.Fatalf("empty ReceiveFrame = %v, want ErrAgain", err)
	}

	if err := ctx.SendPacket(nil); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := ctx.State(); got != StateDraining {
		t.Fatalf("state = %v, want draining", got)
	}
	if _, err := ctx.ReceiveFrame(); !errors.Is(err, io.EOF) {
		t.Fatalf("drained ReceiveFrame = %v, want io.EOF", err)
	}
	// The terminal signal repeats without disturbing state.
	if _, err := ctx.ReceiveFrame(); !errors.Is(err, io.EOF) {
		t.Fatalf("repeated drained ReceiveFrame = %v, want io.EOF", err)
	}
	if got := ctx.State(); got != StateDraining {
		t.Fatalf("state after repeated EOF = %v, want draining", got)
	}

	if err := ctx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := ctx.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := ctx.SendPacket(pkt); !errors.Is(err, ErrClosed) {
		t.Fatalf("SendPacket after Close = %v, want ErrClosed", err)
	}
	if _, err := ctx.ReceiveFrame(); !errors.Is(err, ErrClosed) {
		t.Fatalf("ReceiveFrame after Close = %v, want ErrClosed", err)
	}
}

func TestContextOperationsBeforeOpen(t *testing.T) {
	t.Parallel()

	ctx, err := NewContext(media.CodecPCMS16LE, WithRegistry(stubRegistry()))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	if err := ctx.SendPacket(stubPacket(t, 0, []byte{0, 0, 0, 0})); !errors.Is(err, ErrNotOpen) {
		t.Errorf("SendPacket = %v, want ErrNotOpen", err)
	}
	if _, err := ctx.ReceiveFrame(); !errors.Is(err, ErrNotOpen) {
		t.Errorf("ReceiveFrame = %v, want ErrNotOpen", err)
	}
	if err := ctx.Reset(); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Reset = %v, want ErrNotOpen", err)
	}
}

func TestContextOpenFailureLeavesReusable(t *testing.T) {
	t.Parallel()

	ctx, err := NewContext(media.CodecPCMS16LE, WithRegistry(stubRegistry()))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}

	bad := stubParams(0)
	bad.Channels = 0
	if err := ctx.Open(bad); !errors.Is(err, media.ErrInvalidParameters) {
		t.Fatalf("Open with 0 channels = %v, want ErrInvalidParameters", err)
	}
	if got := ctx.State(); got != StateCreated {
		t.Fatalf("state after failed Open = %v, want created", got)
	}
	if err := ctx.SendPacket(stubPacket(t, 0, []byte{0, 0, 0, 0})); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("SendPacket after failed Open = %v, want ErrNotOpen", err)
	}

	if err := ctx.Open(stubParams(0)); err != nil {
		t.Fatalf("Open with corrected parameters: %v", err)
	}
}

func TestContextStreamMismatch(t *testing.T) {
	t.Parallel()

	ctx, err := NewContext(media.CodecPCMS16LE, WithRegistry(stubRegistry()))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	if err := ctx.Open(stubParams(3)); err != nil {
		t.Fatalf("Open: %v", err)
	}

	wrong := stubPacket(t, 1, []byte{1, 2, 3, 4})
	if err := ctx.SendPacket(wrong); !errors.Is(err, ErrStreamMismatch) {
		t.Fatalf("wrong-stream SendPacket = %v, want ErrStreamMismatch", err)
	}
	if got := ctx.State(); got != StateOpened {
		t.Fatalf("state after mismatch = %v, want opened", got)
	}

	// The context still decodes packets for its own stream.
	right := stubPacket(t, 3, []byte{1, 2, 3, 4})
	if err := ctx.SendPacket(right); err != nil {
		t.Fatalf("SendPacket own stream: %v", err)
	}
	frame, err := ctx.ReceiveFrame()
	if err != nil {
		t.Fatalf("ReceiveFrame: %v", err)
	}
	frame.Release()
}

func TestContextBusyBackpressure(t *testing.T) {
	t.Parallel()

	ctx, err := NewContext(media.CodecPCMS16LE, WithRegistry(stubRegistry()))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	if err := ctx.Open(stubParams(0)); err != nil {
		t.Fatalf("Open: %v", err)
	}

	first := stubPacket(t, 0, []byte{1, 2, 3, 4})
	second := stubPacket(t, 0, []byte{5, 6, 7, 8})
	if err := ctx.SendPacket(first); err != nil {
		t.Fatalf("first SendPacket: %v", err)
	}
	if err := ctx.SendPacket(second); !errors.Is(err, media.ErrAgain) {
		t.Fatalf("SendPacket while full = %v, want ErrAgain", err)
	}

	frame, err := ctx.ReceiveFrame()
	if err != nil {
		t.Fatalf("ReceiveFrame: %v", err)
	}
	frame.Release()

	// The rejected packet is still intact and accepted now.
	if err := ctx.SendPacket(second); err != nil {
		t.Fatalf("resubmitted SendPacket: %v", err)
	}
	frame, err = ctx.ReceiveFrame()
	if err != nil {
		t.Fatalf("second ReceiveFrame: %v", err)
	}
	frame.Release()
}

func TestContextSendWhileDraining(t *testing.T) {
	t.Parallel()

	ctx, err := NewContext(media.CodecPCMS16LE, WithRegistry(stubRegistry()))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	if err := ctx.Open(stubParams(0)); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := ctx.SendPacket(nil); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := ctx.SendPacket(nil); err != nil {
		t.Fatalf("repeated flush should be a no-op, got %v", err)
	}
	if err := ctx.SendPacket(stubPacket(t, 0, []byte{1, 2, 3, 4})); !errors.Is(err, ErrDraining) {
		t.Fatalf("SendPacket while draining = %v, want ErrDraining", err)
	}
}

func TestContextResetRestartsDecoding(t *testing.T) {
	t.Parallel()

	ctx, err := NewContext(media.CodecPCMS16LE, WithRegistry(stubRegistry()))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	if err := ctx.Open(stubParams(0)); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := ctx.SendPacket(nil); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := ctx.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if got := ctx.State(); got != StateOpened {
		t.Fatalf("state after Reset = %v, want opened", got)
	}

	if err := ctx.SendPacket(stubPacket(t, 0, []byte{1, 2, 3, 4})); err != nil {
		t.Fatalf("SendPacket after Reset: %v", err)
	}
	frame, err := ctx.ReceiveFrame()
	if err != nil {
		t.Fatalf("ReceiveFrame after Reset: %v", err)
	}
	frame.Release()
}

func TestContextDecodeErrorKeepsContextUsable(t *testing.T) {
	t.Parallel()

	ctx, err := NewContext(media.CodecPCMS16LE, WithRegistry(stubRegistry()))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	if err := ctx.Open(stubParams(0)); err != nil {
		t.Fatalf("Open: %v", err)
	}

	bad := stubPacket(t, 0, []byte{0xBB, 0, 0, 0})
	err = ctx.SendPacket(bad)
	if err == nil || errors.Is(err, media.ErrAgain) {
		t.Fatalf("bad payload SendPacket = %v, want decode error", err)
	}
	if got := ctx.State(); got != StateOpened {
		t.Fatalf("state after decode error = %v, want opened", got)
	}

	good := stubPacket(t, 0, []byte{1, 2, 3, 4})
	if err := ctx.SendPacket(good); err != nil {
		t.Fatalf("SendPacket after decode error: %v", err)
	}
	frame, err := ctx.ReceiveFrame()
	if err != nil {
		t.Fatalf("ReceiveFrame after decode error: %v", err)
	}
	frame.Release()
}
