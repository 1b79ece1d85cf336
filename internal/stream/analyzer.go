package stream

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"rtpstream-analyzer/internal/codec"
	"rtpstream-analyzer/pkg/types"
)

// EndPolicy decides whether a live record has ended before pkt arrives.
type EndPolicy interface {
	Expired(rec *Record, pkt *types.Packet) bool
}

// GapPolicy ends a stream when no packet arrived for longer than Threshold.
type GapPolicy struct {
	Threshold time.Duration
}

// Expired implements EndPolicy.
func (g GapPolicy) Expired(rec *Record, pkt *types.Packet) bool {
	return g.Threshold > 0 && pkt.Frame.RelTime-rec.StopRelTime > g.Threshold
}

// NeverEnd keeps a stream open for the whole capture.
type NeverEnd struct{}

// Expired implements EndPolicy.
func (NeverEnd) Expired(*Record, *types.Packet) bool { return false }

// SecurePolicy selects which statistics are kept for SRTP streams.
type SecurePolicy int

const (
	// SecureFullStats analyses SRTP headers like plain RTP.
	SecureFullStats SecurePolicy = iota
	// SecureCountOnly keeps identity, counters and timing bounds only.
	SecureCountOnly
)

// ParseSecurePolicy converts a configuration value into a SecurePolicy.
func ParseSecurePolicy(s string) (SecurePolicy, error) {
	switch s {
	case "", "full":
		return SecureFullStats, nil
	case "count_only":
		return SecureCountOnly, nil
	default:
		return SecureFullStats, fmt.Errorf("unknown secure stats policy: %s", s)
	}
}

func (p SecurePolicy) String() string {
	if p == SecureCountOnly {
		return "count_only"
	}
	return "full"
}

// ED-137 RTP header extension profiles.
const (
	ed137Profile  = 0x0067
	ed137AProfile = 0x0167
)

// Analyzer attributes packets to stream records and keeps their statistics.
type Analyzer struct {
	End    EndPolicy
	Secure SecurePolicy
}

// NewAnalyzer creates an analyzer. A nil policy keeps streams open forever.
func NewAnalyzer(end EndPolicy, secure SecurePolicy) *Analyzer {
	if end == nil {
		end = NeverEnd{}
	}
	return &Analyzer{End: end, Secure: secure}
}

// Process routes one dissected packet into table. Packets without RTP are
// ignored apart from RTCP BYE, which ends the streams it names.
func (a *Analyzer) Process(table *Table, pkt *types.Packet) *Record {
	if pkt.Bye != nil {
		if n := table.EndBySource(pkt.Bye); n > 0 {
			log.WithFields(log.Fields{
				"frame":   pkt.Frame.Num,
				"source":  pkt.Bye.Addr.String(),
				"streams": n,
			}).Debug("RTCP BYE ended streams")
		}
	}
	if !pkt.HasRTP {
		return nil
	}

	rec := table.FindOrCreate(pkt.ID, func(rec *Record) bool {
		return a.End.Expired(rec, pkt)
	})
	a.Update(rec, pkt)
	return rec
}

// Update applies one packet to rec.
func (a *Analyzer) Update(rec *Record, pkt *types.Packet) {
	first := rec.PacketCount == 0
	name := codec.Name(pkt.PayloadType, pkt.PayloadName)
	rec.notePayloadType(pkt.PayloadType, name)

	if first {
		rec.FirstPayloadType = pkt.PayloadType
		rec.FirstPayloadTypeName = name
		rec.FirstFrame = pkt.Frame.Num
		rec.StartRelTime = pkt.Frame.RelTime
		rec.StartAbsTime = pkt.Frame.AbsTime
		rec.VLANID = pkt.VLANID
		rec.DSCP = pkt.DSCP
		if pkt.Setup != nil {
			rec.CallID = pkt.Setup.CallID
			rec.SetupFrame = pkt.Setup.Frame
		}
	} else {
		if pkt.VLANID != rec.VLANID {
			rec.VLANTagInconsistent = true
		}
		if pkt.DSCP != rec.DSCP {
			rec.DiffServTagInconsistent = true
		}
	}
	if pkt.Secure {
		rec.IsSecure = true
	}

	switch pkt.ExtensionProfile {
	case ed137Profile:
		rec.Annotation = "ED-137"
	case ed137AProfile:
		rec.Annotation = "ED-137A"
	}

	if !(rec.IsSecure && a.Secure == SecureCountOnly) {
		flags := rec.Stats.update(pkt, codec.ClockRate(pkt.PayloadType, pkt.ClockRate))
		if flags&problemFlags != 0 {
			if !rec.Problem {
				log.WithFields(log.Fields{
					"stream": rec.ID.String(),
					"frame":  pkt.Frame.Num,
					"seq":    pkt.SeqNum,
				}).Debug("Stream irregularity detected")
			}
			rec.Problem = true
		}
		if name == codec.TelephoneEvent && len(pkt.Payload) >= 4 && !pkt.Secure {
			rec.RTPEvent = int(pkt.Payload[0])
		}
	}

	rec.PacketCount++
	rec.LastFrame = pkt.Frame.Num
	rec.StopRelTime = pkt.Frame.RelTime
}
