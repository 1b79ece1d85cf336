package export

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"rtpstream-analyzer/internal/stream"
	"rtpstream-analyzer/pkg/types"
)

const (
	dumpFileHeaderLen   = 16
	dumpPacketHeaderLen = 8
)

// DumpWriter writes the rtpdump format read by rtpplay: a text line naming
// the destination, a binary file header, then one record per RTP packet
// carrying its offset from the start of the stream.
type DumpWriter struct {
	w       *bufio.Writer
	rec     *stream.Record
	start   time.Time
	started bool
	Result
}

// NewDumpWriter creates an rtpdump writer for rec.
func NewDumpWriter(w io.Writer, rec *stream.Record) *DumpWriter {
	return &DumpWriter{w: bufio.NewWriter(w), rec: rec}
}

func (d *DumpWriter) writeHeader(start time.Time) error {
	d.start = start
	line := fmt.Sprintf("#!rtpplay1.0 %s/%d\n", d.rec.ID.DstAddr.Unmap(), d.rec.ID.DstPort)

	var hdr [dumpFileHeaderLen]byte
	binary.BigEndian.PutUint32(hdr[0:], uint32(start.Unix()))
	binary.BigEndian.PutUint32(hdr[4:], uint32(start.Nanosecond()/1000))
	if src := d.rec.ID.SrcAddr.Unmap(); src.Is4() {
		a := src.As4()
		copy(hdr[8:12], a[:])
	}
	binary.BigEndian.PutUint16(hdr[12:], d.rec.ID.SrcPort)

	n, err := d.w.WriteString(line)
	d.Bytes += uint64(n)
	if err != nil {
		return fmt.Errorf("failed to write rtpdump header: %w", err)
	}
	n, err = d.w.Write(hdr[:])
	d.Bytes += uint64(n)
	if err != nil {
		return fmt.Errorf("failed to write rtpdump header: %w", err)
	}
	return nil
}

// WritePacket appends one RTP packet record.
func (d *DumpWriter) WritePacket(pkt *types.Packet) error {
	if len(pkt.Raw) == 0 || len(pkt.Raw) > 0xffff-dumpPacketHeaderLen {
		d.Skipped++
		return nil
	}
	if !d.started {
		if err := d.writeHeader(pkt.Frame.AbsTime); err != nil {
			return err
		}
		d.started = true
	}

	var hdr [dumpPacketHeaderLen]byte
	binary.BigEndian.PutUint16(hdr[0:], uint16(len(pkt.Raw)+dumpPacketHeaderLen))
	binary.BigEndian.PutUint16(hdr[2:], uint16(len(pkt.Raw)))
	binary.BigEndian.PutUint32(hdr[4:], uint32(pkt.Frame.AbsTime.Sub(d.start)/time.Millisecond))

	n, err := d.w.Write(hdr[:])
	d.Bytes += uint64(n)
	if err != nil {
		return fmt.Errorf("failed to write rtpdump record of frame %d: %w", pkt.Frame.Num, err)
	}
	n, err = d.w.Write(pkt.Raw)
	d.Bytes += uint64(n)
	if err != nil {
		return fmt.Errorf("failed to write rtpdump record of frame %d: %w", pkt.Frame.Num, err)
	}
	d.Packets++
	return nil
}

// Flush writes buffered data to the underlying writer.
func (d *DumpWriter) Flush() error {
	if err := d.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush export: %w", err)
	}
	return nil
}
