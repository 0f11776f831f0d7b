package format

import "github.com/mireska/weir/media"

// ReadStats aggregates packet counters for one Context, totals plus a
// per-stream breakdown. Probe tooling prints them; tests use them to
// check byte conservation against the source.
type ReadStats struct {
	Packets int64
	Bytes   int64
	Streams map[int]StreamStats
}

// StreamStats counts one stream's share of the read packets.
type StreamStats struct {
	Packets int64
	Bytes   int64
	// LastPTS is the most recent presentation timestamp handed out for
	// the stream, media.NoPTS before the first packet.
	LastPTS int64
}

func (s *ReadStats) record(pkt *media.Packet) {
	s.Packets++
	s.Bytes += int64(pkt.Size())

	st, ok := s.Streams[pkt.StreamIndex()]
	if !ok {
		st.LastPTS = media.NoPTS
	}
	st.Packets++
	st.Bytes += int64(pkt.Size())
	if pts := pkt.PTS(); pts != media.NoPTS {
		st.LastPTS = pts
	}
	s.Streams[pkt.StreamIndex()] = st
}

func (s ReadStats) clone() ReadStats {
	out := s
	out.Streams = make(map[int]StreamStats, len(s.Streams))
	for k, v := range s.Streams {
		out.Streams[k] = v
	}
	return out
}
