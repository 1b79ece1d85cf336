package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	log "github.com/sirupsen/logrus"

	"rtpstream-analyzer/internal/dissect"
	"rtpstream-analyzer/internal/tap"
	"rtpstream-analyzer/pkg/types"
)

// File is a packet source backed by a capture file. Every pass re-reads the
// file from the start, so frame numbers are stable across passes.
type File struct {
	path      string
	dissector *dissect.Dissector
}

// NewFile creates a source reading path.
func NewFile(path string, opts dissect.Options) *File {
	return &File{
		path:      path,
		dissector: dissect.New(opts),
	}
}

// Path returns the capture file name.
func (f *File) Path() string {
	return f.path
}

// Register opens the capture to check it is readable and compiles filter as
// a BPF expression against its link type.
func (f *File) Register(filter string) (tap.Pass, error) {
	handle, err := pcap.OpenOffline(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file %s: %w", f.path, err)
	}
	defer handle.Close()

	linkType := handle.LinkType()
	log.WithFields(log.Fields{
		"file":      f.path,
		"link_type": linkType.String(),
		"filter":    filter,
	}).Debug("Registering capture pass")

	p := &filePass{file: f, linkType: linkType}
	if filter != "" {
		bpf, err := pcap.NewBPF(linkType, int(handle.SnapLen()), filter)
		if err != nil {
			return nil, fmt.Errorf("invalid filter %q: %w", filter, err)
		}
		p.bpf = bpf
	}
	return p, nil
}

type filePass struct {
	file     *File
	linkType layers.LinkType
	bpf      *pcap.BPF
}

// Run dissects every frame of the capture and hands the frames accepted by
// the filter to fn. Frames rejected by the filter still consume a frame
// number and still feed call setup tracking.
func (p *filePass) Run(ctx context.Context, fn func(pkt *types.Packet) error) error {
	handle, err := pcap.OpenOffline(p.file.path)
	if err != nil {
		return fmt.Errorf("failed to open pcap file %s: %w", p.file.path, err)
	}
	defer handle.Close()

	d := p.file.dissector
	d.Reset()

	var (
		num       uint32
		delivered uint32
		first     time.Time
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		data, ci, err := handle.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read frame %d of %s: %w", num+1, p.file.path, err)
		}

		num++
		if num == 1 {
			first = ci.Timestamp
		}
		frame := types.Frame{
			Num:     num,
			RelTime: ci.Timestamp.Sub(first),
			AbsTime: ci.Timestamp,
		}

		pkt := d.Dissect(frame, data, p.linkType)
		if p.bpf != nil && !p.bpf.Matches(ci, data) {
			continue
		}

		delivered++
		if err := fn(pkt); err != nil {
			return err
		}
	}

	log.WithFields(log.Fields{
		"file":      p.file.path,
		"frames":    num,
		"delivered": delivered,
	}).Debug("Capture pass complete")
	return nil
}
