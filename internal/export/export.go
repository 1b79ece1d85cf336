package export

import (
	"errors"
	"fmt"
	"io"

	"rtpstream-analyzer/internal/codec"
	"rtpstream-analyzer/internal/stream"
	"rtpstream-analyzer/pkg/types"
)

// MaxSilenceFrames caps the silence inserted for a single timing gap.
const MaxSilenceFrames = 14400000

// Format selects the export file layout.
type Format string

const (
	FormatRaw     Format = "raw"
	FormatRTPDump Format = "rtpdump"
)

var (
	ErrNoStream         = errors.New("no stream to save")
	ErrSecureStream     = errors.New("cannot export an SRTP stream")
	ErrUnsupportedCodec = errors.New("payload type cannot be exported as raw audio")
)

// ParseFormat converts a configuration value into a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatRaw:
		return FormatRaw, nil
	case FormatRTPDump:
		return FormatRTPDump, nil
	default:
		return "", fmt.Errorf("unknown export format: %s", s)
	}
}

// Options configures an export.
type Options struct {
	Format           Format
	MaxSilenceFrames int // zero means MaxSilenceFrames
}

// Writer consumes the packets of one stream in frame order.
type Writer interface {
	WritePacket(pkt *types.Packet) error
	Flush() error
}

// Result summarises a finished export.
type Result struct {
	Packets       uint64
	Skipped       uint64
	Bytes         uint64
	SilenceFrames uint64
	CeilingHits   uint64
}

// Check reports whether rec can be exported with opts without writing
// anything.
func Check(rec *stream.Record, opts Options) error {
	if rec == nil {
		return ErrNoStream
	}
	if rec.IsSecure {
		return ErrSecureStream
	}
	switch opts.Format {
	case "", FormatRaw:
		_, err := rawPayloadType(rec)
		return err
	case FormatRTPDump:
		return nil
	default:
		return fmt.Errorf("unknown export format: %s", opts.Format)
	}
}

// NewWriter returns the writer for opts.Format.
func NewWriter(w io.Writer, rec *stream.Record, opts Options) (Writer, error) {
	if rec == nil {
		return nil, ErrNoStream
	}
	if rec.IsSecure {
		return nil, ErrSecureStream
	}
	switch opts.Format {
	case "", FormatRaw:
		return NewRawWriter(w, rec, opts.MaxSilenceFrames)
	case FormatRTPDump:
		return NewDumpWriter(w, rec), nil
	default:
		return nil, fmt.Errorf("unknown export format: %s", opts.Format)
	}
}

// Summary returns the counters of a writer created by NewWriter.
func Summary(w Writer) Result {
	switch w := w.(type) {
	case *RawWriter:
		return w.Result
	case *DumpWriter:
		return w.Result
	}
	return Result{}
}

func rawPayloadType(rec *stream.Record) (codec.PayloadType, error) {
	pt, ok := codec.Lookup(rec.FirstPayloadType)
	if !ok || !pt.Raw() {
		return codec.PayloadType{}, fmt.Errorf("%w: %s", ErrUnsupportedCodec, rec.FirstPayloadTypeName)
	}
	return pt, nil
}
