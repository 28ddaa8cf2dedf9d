package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vango-dev/uiwire/internal/config"
	"github.com/vango-dev/uiwire/internal/errors"
	"github.com/vango-dev/uiwire/pkg/capture"
	"github.com/vango-dev/uiwire/pkg/protocol"
)

func inspectCmd() *cobra.Command {
	var (
		direction string
		chunk     int
		raw       bool
	)

	cmd := &cobra.Command{
		Use:   "inspect <capture>",
		Short: "Decode a recorded capture",
		Long: `Decode one direction of a recorded capture frame by frame.

The argument is a capture file path or the name of a capture in the
configured store. The stream is replayed through the same reassembler a
live connection uses, either in the chunks it was recorded in or, with
--chunk, in fixed-size pieces.

Examples:
  uiwire inspect captures/20250101T120000Z-ab12.uwcap
  uiwire inspect 20250101T120000Z-ab12 --direction=out
  uiwire inspect session.uwcap --chunk=1 --raw`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := parseDirection(direction)
			if err != nil {
				return err
			}
			if chunk < 0 {
				return errors.New("U080").WithDetail("--chunk must not be negative")
			}
			return runInspect(cmd.Context(), cmd.OutOrStdout(), args[0], dir, chunk, raw)
		},
	}

	cmd.Flags().StringVarP(&direction, "direction", "d", "in", "Direction to decode: in or out")
	cmd.Flags().IntVar(&chunk, "chunk", 0, "Replay in chunks of this many bytes (0 = as recorded)")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the bytes of every frame")

	return cmd
}

func parseDirection(s string) (capture.Direction, error) {
	switch strings.ToLower(s) {
	case "in", "inbound":
		return capture.Inbound, nil
	case "out", "outbound":
		return capture.Outbound, nil
	}
	return 0, errors.New("U080").WithDetail(fmt.Sprintf("--direction must be in or out, got %q", s))
}

func runInspect(ctx context.Context, w io.Writer, name string, dir capture.Direction, chunk int, raw bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	dict, err := cfg.BuildDictionary()
	if err != nil {
		return err
	}

	rc, err := openCapture(ctx, cfg, name)
	if err != nil {
		return errors.FromProtocol(err)
	}
	defer rc.Close()

	r, err := capture.NewReader(rc)
	if err != nil {
		return errors.FromProtocol(err).WithDetail("Reading " + name)
	}
	data, sizes, err := capture.Stream(r, dir)
	if err != nil {
		return errors.FromProtocol(err).WithDetail("Reading " + name)
	}
	if chunk > 0 {
		sizes = fixedChunks(len(data), chunk)
	}

	sum, err := inspectStream(w, dict, data, sizes, raw, cfg.Limits.MaxAllocation)
	fmt.Fprintf(w, "\n%d frames, %d bytes, %d chunks (%s)\n", sum.frames, sum.bytes, len(sizes), dir)
	if err != nil {
		return errors.FromProtocol(err).
			WithDetail(fmt.Sprintf("Stream %s of %s failed after %d frames at byte %d.", dir, name, sum.frames, sum.bytes))
	}
	if sum.trailing > 0 {
		warn("%d trailing bytes do not form a complete frame", sum.trailing)
	}
	return nil
}

// openCapture opens name as a file, falling back to the configured store.
func openCapture(ctx context.Context, cfg *config.Config, name string) (io.ReadCloser, error) {
	if f, err := os.Open(name); err == nil {
		return f, nil
	}
	store, err := cfg.CaptureStore()
	if err != nil {
		return nil, err
	}
	return store.Open(ctx, strings.TrimSuffix(name, capture.Ext))
}

func fixedChunks(total, size int) []int {
	sizes := make([]int, 0, total/size+1)
	for total > 0 {
		n := min(size, total)
		sizes = append(sizes, n)
		total -= n
	}
	return sizes
}

type inspectSummary struct {
	frames   int
	bytes    int // bytes consumed by complete frames
	trailing int
}

// inspectStream feeds data to a reassembler in the given chunk sizes and
// prints every frame as soon as it completes.
func inspectStream(w io.Writer, dict *protocol.Dictionary, data []byte, sizes []int, raw bool, maxAlloc int) (inspectSummary, error) {
	var sum inspectSummary
	reasm := protocol.NewReassembler(dict)
	if maxAlloc > 0 {
		reasm.SetMaxAllocation(maxAlloc)
	}

	off := 0
	for _, n := range sizes {
		reasm.Merge(data[off : off+n])
		off += n

		for {
			start := reasm.Position()
			b, err := reasm.Next()
			if err != nil {
				return sum, shiftOffset(err, sum.bytes-start)
			}
			if b == nil {
				break
			}
			f, _, err := protocol.DecodeFrame(dict, b)
			if err != nil {
				return sum, shiftOffset(err, sum.bytes)
			}
			printFrame(w, dict, sum.frames, sum.bytes, f)
			if raw {
				fmt.Fprintf(w, "    % X\n", b)
			}
			sum.frames++
			sum.bytes += len(b)
		}
	}
	sum.trailing = reasm.Buffered()
	return sum, nil
}

// shiftOffset moves a format error's offset by delta so that it counts from
// the start of the replayed stream instead of the reassembler's buffer.
func shiftOffset(err error, delta int) error {
	var fe *protocol.FormatError
	if stderrors.As(err, &fe) {
		fe.Offset += delta
	}
	return err
}

func printFrame(w io.Writer, dict *protocol.Dictionary, index, offset int, f *protocol.Frame) {
	label := ""
	switch {
	case f.IsHeartbeat():
		label = " heartbeat"
	case f.Has(protocol.TagProtocolVersion):
		label = " hello"
	case f.Has(protocol.TagError):
		label = " error"
	}
	if id, ok := f.ObjectID(); ok {
		label += fmt.Sprintf(" object=%d", id)
	}
	fmt.Fprintf(w, "#%d @%d %dB%s\n", index, offset, f.Size, label)
	for _, u := range f.Units {
		fmt.Fprintf(w, "    %s\n", describeUnit(dict, u))
	}
}

func describeUnit(dict *protocol.Dictionary, u protocol.Unit) string {
	name := dict.Name(u.Tag)
	if name == "" {
		name = fmt.Sprintf("0x%02X", uint8(u.Tag))
	}
	if u.Kind == protocol.KindNull {
		return name
	}
	return fmt.Sprintf("%s %s = %v", name, u.Kind, u.Value)
}

func describeUnits(dict *protocol.Dictionary, units []protocol.Unit) string {
	parts := make([]string, len(units))
	for i, u := range units {
		parts[i] = describeUnit(dict, u)
	}
	return strings.Join(parts, ", ")
}
