package mpegts

import (
	"bytes"
	"io"
	"testing"

	"github.com/mireska/weir/format"
)

func BenchmarkDemux(b *testing.B) {
	tb := newTSBuilder()
	tb.psi(pidPAT, buildPATSection(1, testPMTPID))
	tb.psi(testPMTPID, buildPMTSection(testAudioPID, []esEntry{{streamTypeADTS, testAudioPID}}))
	for i := 0; i < 64; i++ {
		tb.pes(testAudioPID, audioPES(int64(i)*5760, 0xA1, 0xA2, 0xA3))
	}
	stream := tb.buf

	b.SetBytes(int64(len(stream)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d := New()
		r := format.NewReader(bytes.NewReader(stream))
		if err := d.Open(r, testHost()); err != nil {
			b.Fatalf("Open: %v", err)
		}
		for {
			pkt, err := d.ReadPacket(r)
			if err == io.EOF {
				break
			}
			if err != nil {
				b.Fatalf("ReadPacket: %v", err)
			}
			pkt.Release()
		}
	}
}
