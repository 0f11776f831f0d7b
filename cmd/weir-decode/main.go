// Command weir-decode runs the whole pipeline on a file: one goroutine
// demuxes packets and routes them over channels to a decoder goroutine
// per audio stream. When the run ends it reports packets, frames,
// samples and bytes per stream. With -out each stream's decoded samples
// are written as raw PCM, playable with ffplay -f s16le.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/mireska/weir"
	"github.com/mireska/weir/codec"
	"github.com/mireska/weir/format"
	"github.com/mireska/weir/media"
)

var version = "dev"

func main() {
	outDir := flag.String("out", "", "write each stream's decoded samples to this directory")
	flag.Parse()

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: weir-decode [-out dir] <file>")
		os.Exit(2)
	}
	path := flag.Arg(0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	fc, err := weir.Open(path)
	if err != nil {
		slog.Error("open failed", "path", path, "error", err)
		os.Exit(1)
	}
	defer fc.Close()

	slog.Info("weir-decode starting",
		"version", version,
		"input", path,
		"format", fc.Name(),
		"streams", len(fc.Streams()),
	)

	workers := make(map[int]*worker)
	for _, st := range fc.Streams() {
		slog.Info("stream found",
			"index", st.Index,
			"type", st.MediaType,
			"codec", st.CodecID,
		)
		if st.MediaType != media.MediaTypeAudio {
			slog.Info("skipping stream, not audio", "index", st.Index, "type", st.MediaType)
			continue
		}
		w, err := newWorker(st, *outDir)
		if errors.Is(err, codec.ErrDecoderNotFound) {
			slog.Warn("skipping stream, no decoder", "index", st.Index, "codec", st.CodecID)
			continue
		}
		if err != nil {
			slog.Error("decoder setup failed", "stream", st.Index, "error", err)
			os.Exit(1)
		}
		workers[st.Index] = w
	}
	if len(workers) == 0 {
		slog.Error("no decodable audio streams", "input", path)
		os.Exit(1)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		w := w
		g.Go(func() error {
			return w.run()
		})
	}
	g.Go(func() error {
		return demux(ctx, fc, workers)
	})

	if err := g.Wait(); err != nil {
		slog.Error("pipeline error", "error", err)
		os.Exit(1)
	}

	indices := make([]int, 0, len(workers))
	for i := range workers {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	var frames, samples, bytes int64
	for _, i := range indices {
		w := workers[i]
		slog.Info("stream finished",
			"stream", i,
			"packets", w.packets,
			"frames", w.frames,
			"samples", w.samples,
			"bytes", w.bytes,
		)
		if w.dumpPath != "" {
			slog.Info("raw samples written",
				"stream", i,
				"path", w.dumpPath,
				"layout", fmt.Sprintf("%s %d Hz %d ch", w.stream.SampleFormat, w.stream.SampleRate, w.stream.Channels),
			)
		}
		frames += w.frames
		samples += w.samples
		bytes += w.bytes
	}
	stats := fc.Stats()
	slog.Info("decode complete",
		"packets", stats.Packets,
		"packet_bytes", stats.Bytes,
		"frames", frames,
		"samples", samples,
		"sample_bytes", bytes,
	)
}

// demux reads packets and hands each to its stream's worker. Packets
// for streams without a worker are dropped here.
func demux(ctx context.Context, fc *format.Context, workers map[int]*worker) error {
	defer func() {
		for _, w := range workers {
			close(w.ch)
		}
	}()
	for {
		pkt, err := fc.ReadPacket()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read packet: %w", err)
		}
		w, ok := workers[pkt.StreamIndex()]
		if !ok {
			pkt.Release()
			continue
		}
		select {
		case w.ch <- pkt:
		case <-ctx.Done():
			pkt.Release()
			return ctx.Err()
		}
	}
}

// worker owns one stream's decoder. Only its goroutine touches dec, so
// the single-goroutine contract of codec.Context holds.
type worker struct {
	stream   *format.Stream
	dec      *codec.Context
	ch       chan *media.Packet
	dump     *os.File
	dumpPath string

	packets int64
	frames  int64
	samples int64
	bytes   int64
}

func newWorker(st *format.Stream, outDir string) (*worker, error) {
	dec, err := weir.NewDecoder(st.CodecID)
	if err != nil {
		return nil, err
	}
	params := st.CodecParameters()
	if err := dec.Open(&params); err != nil {
		return nil, err
	}

	w := &worker{
		stream: st,
		dec:    dec,
		ch:     make(chan *media.Packet, 8),
	}
	if outDir != "" {
		w.dumpPath = filepath.Join(outDir, fmt.Sprintf("stream%d.pcm", st.Index))
		f, err := os.Create(w.dumpPath)
		if err != nil {
			dec.Close()
			return nil, err
		}
		w.dump = f
	}
	return w, nil
}

func (w *worker) run() error {
	defer w.dec.Close()
	for pkt := range w.ch {
		w.packets++
		err := w.dec.SendPacket(pkt)
		pkt.Release()
		if err != nil {
			return fmt.Errorf("stream %d: %w", w.stream.Index, err)
		}
		if err := w.receive(); err != nil {
			return err
		}
	}
	if err := w.dec.SendPacket(nil); err != nil {
		return fmt.Errorf("stream %d: flush: %w", w.stream.Index, err)
	}
	if err := w.receive(); err != nil {
		return err
	}
	if w.dump != nil {
		if err := w.dump.Close(); err != nil {
			return fmt.Errorf("stream %d: %w", w.stream.Index, err)
		}
	}
	return nil
}

// receive pulls frames until the decoder wants more input or runs dry.
func (w *worker) receive() error {
	for {
		f, err := w.dec.ReceiveFrame()
		if errors.Is(err, media.ErrAgain) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stream %d: %w", w.stream.Index, err)
		}
		af, ok := f.(*media.AudioFrame)
		if !ok {
			f.Release()
			return fmt.Errorf("stream %d: decoder produced a %s frame", w.stream.Index, f.MediaType())
		}
		w.frames++
		w.samples += int64(af.NumSamples())
		for i := 0; i < af.Planes(); i++ {
			data := af.Data(i)
			w.bytes += int64(len(data))
			if w.dump != nil {
				if _, err := w.dump.Write(data); err != nil {
					af.Release()
					return fmt.Errorf("stream %d: dump: %w", w.stream.Index, err)
				}
			}
		}
		af.Release()
	}
}
