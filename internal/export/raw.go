package export

import (
	"bufio"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"

	"rtpstream-analyzer/internal/codec"
	"rtpstream-analyzer/internal/stream"
	"rtpstream-analyzer/pkg/types"
)

// silenceChunk is the number of silence frames written per call.
const silenceChunk = 4096

// RawWriter writes a headerless sample stream. Gaps between the expected
// and the actual RTP timestamp of consecutive packets are filled with
// silence, bounded per gap by maxSilence.
type RawWriter struct {
	w          *bufio.Writer
	rec        *stream.Record
	pt         codec.PayloadType
	maxSilence int
	silence    []byte

	started bool
	nextTS  uint32
	lastTS  uint32
	Result
}

// NewRawWriter creates a raw writer for rec, which must carry a sample-based
// payload type. maxSilence <= 0 selects MaxSilenceFrames.
func NewRawWriter(w io.Writer, rec *stream.Record, maxSilence int) (*RawWriter, error) {
	pt, err := rawPayloadType(rec)
	if err != nil {
		return nil, err
	}
	if maxSilence <= 0 {
		maxSilence = MaxSilenceFrames
	}

	silence := make([]byte, 0, silenceChunk*pt.SampleSize)
	for i := 0; i < silenceChunk; i++ {
		silence = append(silence, pt.Silence...)
	}

	return &RawWriter{
		w:          bufio.NewWriter(w),
		rec:        rec,
		pt:         pt,
		maxSilence: maxSilence,
		silence:    silence,
	}, nil
}

// WritePacket appends the payload of pkt, preceded by silence if pkt starts
// later than the previous packet ended.
func (r *RawWriter) WritePacket(pkt *types.Packet) error {
	if pkt.PayloadType != r.rec.FirstPayloadType {
		r.Skipped++
		return nil
	}
	if r.started && pkt.Timestamp == r.lastTS {
		r.Skipped++
		return nil
	}

	if r.started {
		gap := int32(pkt.Timestamp - r.nextTS)
		if gap > 0 {
			frames := int64(gap)
			if frames > int64(r.maxSilence) {
				r.CeilingHits++
				log.WithFields(log.Fields{
					"stream": r.rec.ID.String(),
					"frame":  pkt.Frame.Num,
					"gap":    gap,
					"limit":  r.maxSilence,
				}).Warn("Timing gap exceeds silence limit, truncating")
				frames = int64(r.maxSilence)
			}
			if err := r.writeSilence(frames); err != nil {
				return err
			}
		}
	}

	n, err := r.w.Write(pkt.Payload)
	r.Bytes += uint64(n)
	if err != nil {
		return fmt.Errorf("failed to write payload of frame %d: %w", pkt.Frame.Num, err)
	}

	r.Packets++
	r.started = true
	r.lastTS = pkt.Timestamp
	r.nextTS = pkt.Timestamp + uint32(len(pkt.Payload)/r.pt.SampleSize)
	return nil
}

func (r *RawWriter) writeSilence(frames int64) error {
	for frames > 0 {
		chunk := frames
		if chunk > silenceChunk {
			chunk = silenceChunk
		}
		n, err := r.w.Write(r.silence[:chunk*int64(r.pt.SampleSize)])
		r.Bytes += uint64(n)
		if err != nil {
			return fmt.Errorf("failed to write silence: %w", err)
		}
		r.SilenceFrames += uint64(chunk)
		frames -= chunk
	}
	return nil
}

// Flush writes buffered data to the underlying writer.
func (r *RawWriter) Flush() error {
	if err := r.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush export: %w", err)
	}
	return nil
}
