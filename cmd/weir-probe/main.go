// Command weir-probe opens a media file and reports what is inside:
// container, duration, metadata and per-stream codec parameters. With
// -v it also reads every packet and prints per-stream counters.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/mireska/weir"
	"github.com/mireska/weir/format"
	"github.com/mireska/weir/media"
)

var version = "dev"

func main() {
	verbose := flag.Bool("v", false, "read every packet and print per-stream counters")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("weir-probe", version)
		return
	}

	level := slog.LevelWarn
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: weir-probe [-v] <file>")
		os.Exit(2)
	}
	path := flag.Arg(0)

	fc, err := weir.Open(path)
	if err != nil {
		slog.Error("open failed", "path", path, "error", err)
		os.Exit(1)
	}
	defer fc.Close()

	fmt.Printf("input:    %s\n", path)
	fmt.Printf("format:   %s\n", fc.Name())
	if d, ok := fc.Duration(); ok {
		fmt.Printf("duration: %s\n", d.Round(time.Millisecond))
	} else {
		fmt.Printf("duration: unknown\n")
	}
	printMetadata(fc.Metadata())

	for _, st := range fc.Streams() {
		fmt.Printf("stream #%d: %s, %s\n", st.Index, st.MediaType, describeStream(st))
	}

	if *verbose {
		if err := countPackets(fc); err != nil {
			slog.Error("packet scan failed", "error", err)
			os.Exit(1)
		}
	}
}

func printMetadata(meta map[string]string) {
	if len(meta) == 0 {
		return
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Println("metadata:")
	for _, k := range keys {
		fmt.Printf("  %-12s %s\n", k, meta[k])
	}
}

func describeStream(st *format.Stream) string {
	switch st.MediaType {
	case media.MediaTypeAudio:
		s := fmt.Sprintf("%s, %d Hz, %d ch, %s", st.CodecID, st.SampleRate, st.Channels, st.SampleFormat)
		if st.BitsPerSample > 0 {
			s += fmt.Sprintf(" (%d bit)", st.BitsPerSample)
		}
		if st.BitRate > 0 {
			s += fmt.Sprintf(", %d kb/s", st.BitRate/1000)
		}
		return s
	case media.MediaTypeVideo:
		return fmt.Sprintf("%s, %dx%d, %s", st.CodecID, st.Width, st.Height, st.PixelFormat)
	default:
		return st.CodecID.String()
	}
}

// countPackets reads the file to the end and prints what each stream
// carried. Packets are released as soon as they are counted.
func countPackets(fc *format.Context) error {
	for {
		pkt, err := fc.ReadPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		pkt.Release()
	}

	stats := fc.Stats()
	fmt.Printf("packets:  %d (%d bytes)\n", stats.Packets, stats.Bytes)

	indices := make([]int, 0, len(stats.Streams))
	for i := range stats.Streams {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	for _, i := range indices {
		ss := stats.Streams[i]
		line := fmt.Sprintf("  stream #%d: %d packets, %d bytes", i, ss.Packets, ss.Bytes)
		if ss.LastPTS != media.NoPTS {
			if st, err := fc.Stream(i); err == nil && st.TimeBase.IsValid() {
				at := time.Duration(float64(ss.LastPTS) * st.TimeBase.Float() * float64(time.Second))
				line += fmt.Sprintf(", last pts %d (%s)", ss.LastPTS, at.Round(time.Millisecond))
			} else {
				line += fmt.Sprintf(", last pts %d", ss.LastPTS)
			}
		}
		fmt.Println(line)
	}
	return nil
}
