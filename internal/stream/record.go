package stream

import (
	"strings"
	"time"

	"rtpstream-analyzer/pkg/types"
)

// NoEvent marks a record that never carried an RFC 4733 event.
const NoEvent = -1

// Record aggregates every packet attributed to one stream instance.
type Record struct {
	ID types.StreamID

	FirstPayloadType     uint8
	FirstPayloadTypeName string
	AllPayloadTypeNames  string
	payloadTypeNames     [256]string

	IsSecure    bool
	PacketCount uint32
	Ended       bool
	RTPEvent    int

	CallID     string
	SetupFrame uint32

	FirstFrame   uint32
	LastFrame    uint32
	StartRelTime time.Duration
	StopRelTime  time.Duration
	StartAbsTime time.Time

	VLANID                  uint16
	DSCP                    uint8
	VLANTagInconsistent     bool
	DiffServTagInconsistent bool

	Stats   Stats
	Problem bool

	// Annotation is static descriptive text set by payload-specific handling.
	Annotation string
}

func newRecord(id types.StreamID) *Record {
	return &Record{ID: id, RTPEvent: NoEvent}
}

// PayloadTypeName returns the name recorded for pt, or "" if pt was never seen.
func (r *Record) PayloadTypeName(pt uint8) string {
	return r.payloadTypeNames[pt]
}

// PayloadTypes returns the payload type codes seen, in ascending order.
func (r *Record) PayloadTypes() []uint8 {
	var pts []uint8
	for i, name := range r.payloadTypeNames {
		if name != "" {
			pts = append(pts, uint8(i))
		}
	}
	return pts
}

// Duration returns the time between the first and last packet.
func (r *Record) Duration() time.Duration {
	return r.StopRelTime - r.StartRelTime
}

// Contains reports whether frame lies within the record's first and last frame.
func (r *Record) Contains(frame uint32) bool {
	return frame >= r.FirstFrame && frame <= r.LastFrame
}

func (r *Record) notePayloadType(pt uint8, name string) {
	if r.payloadTypeNames[pt] != "" {
		return
	}
	r.payloadTypeNames[pt] = name
	for _, seen := range strings.Split(r.AllPayloadTypeNames, ", ") {
		if seen == name {
			return
		}
	}
	if r.AllPayloadTypeNames == "" {
		r.AllPayloadTypeNames = name
	} else {
		r.AllPayloadTypeNames += ", " + name
	}
}
