package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"rtpstream-analyzer/internal/stream"
)

// Reporter outputs statistics to console and/or file.
type Reporter struct {
	collector  *Collector
	exportFile string
}

// NewReporter creates a new statistics reporter.
func NewReporter(collector *Collector, exportFile string) *Reporter {
	return &Reporter{
		collector:  collector,
		exportFile: exportFile,
	}
}

// StreamSummary is the exported view of one stream record.
type StreamSummary struct {
	Index        int     `json:"index"`
	Source       string  `json:"source"`
	Destination  string  `json:"destination"`
	SSRC         string  `json:"ssrc"`
	PayloadTypes string  `json:"payload_types"`
	Packets      uint32  `json:"packets"`
	Expected     uint32  `json:"expected"`
	Lost         int64   `json:"lost"`
	LossPercent  float64 `json:"loss_percent"`
	Duplicates   uint32  `json:"duplicates"`
	OutOfOrder   uint32  `json:"out_of_order"`
	MaxDeltaMs   float64 `json:"max_delta_ms"`
	MaxJitterMs  float64 `json:"max_jitter_ms"`
	MeanJitterMs float64 `json:"mean_jitter_ms"`
	FirstFrame   uint32  `json:"first_frame"`
	LastFrame    uint32  `json:"last_frame"`
	StartSec     float64 `json:"start_sec"`
	DurationSec  float64 `json:"duration_sec"`
	CallID       string  `json:"call_id,omitempty"`
	Secure       bool    `json:"secure"`
	Ended        bool    `json:"ended"`
	Problem      bool    `json:"problem"`
	VLANID       uint16  `json:"vlan_id,omitempty"`
	DSCP         uint8   `json:"dscp"`
	TagMismatch  bool    `json:"tag_mismatch"`
	LastRTPEvent int     `json:"last_rtp_event"`
	Annotation   string  `json:"annotation,omitempty"`
}

// Summarize converts stream records into their exported view.
func Summarize(records []*stream.Record) []StreamSummary {
	out := make([]StreamSummary, 0, len(records))
	for i, r := range records {
		out = append(out, StreamSummary{
			Index:        i + 1,
			Source:       r.ID.Source().String(),
			Destination:  r.ID.Destination().String(),
			SSRC:         fmt.Sprintf("0x%08X", r.ID.SSRC),
			PayloadTypes: r.AllPayloadTypeNames,
			Packets:      r.PacketCount,
			Expected:     r.Stats.Expected(),
			Lost:         r.Stats.Lost(),
			LossPercent:  r.Stats.LossRatio() * 100,
			Duplicates:   r.Stats.Duplicates,
			OutOfOrder:   r.Stats.OutOfOrder,
			MaxDeltaMs:   r.Stats.MaxDelta,
			MaxJitterMs:  r.Stats.MaxJitter,
			MeanJitterMs: r.Stats.MeanJitter,
			FirstFrame:   r.FirstFrame,
			LastFrame:    r.LastFrame,
			StartSec:     r.StartRelTime.Seconds(),
			DurationSec:  r.Duration().Seconds(),
			CallID:       r.CallID,
			Secure:       r.IsSecure,
			Ended:        r.Ended,
			Problem:      r.Problem,
			VLANID:       r.VLANID,
			DSCP:         r.DSCP,
			TagMismatch:  r.VLANTagInconsistent || r.DiffServTagInconsistent,
			LastRTPEvent: r.RTPEvent,
			Annotation:   r.Annotation,
		})
	}
	return out
}

// FormatStreams renders stream records as a fixed-width table.
func FormatStreams(records []*stream.Record) string {
	return FormatSummaries(Summarize(records))
}

// FormatSummaries renders stream summaries as a fixed-width table.
func FormatSummaries(summaries []StreamSummary) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-4s %-40s %-40s %-10s %-20s %7s %7s %8s %10s %10s %10s  %s\n",
		"#", "Source", "Destination", "SSRC", "Payload", "Packets", "Lost", "Lost%", "MaxDelta", "MaxJitter", "MeanJitter", "Status"))

	for _, s := range summaries {
		status := "OK"
		if s.Problem {
			status = "X"
		}
		if s.Secure {
			status += " SRTP"
		}
		if s.Ended {
			status += " ended"
		}
		if s.Annotation != "" {
			status += " " + s.Annotation
		}
		sb.WriteString(fmt.Sprintf("%-4d %-40s %-40s %-10s %-20s %7d %7d %7.1f%% %10.3f %10.3f %10.3f  %s\n",
			s.Index, s.Source, s.Destination, s.SSRC, s.PayloadTypes, s.Packets, s.Lost, s.LossPercent,
			s.MaxDeltaMs, s.MaxJitterMs, s.MeanJitterMs, status))
	}
	return sb.String()
}

// FormatReport generates a formatted statistics report string.
func (r *Reporter) FormatReport() string {
	snap := r.collector.Snapshot()
	elapsed := snap.Duration()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("\n=== RTP Stream Analyzer Statistics (elapsed: %s) ===\n", elapsed.Round(time.Millisecond)))
	sb.WriteString("Passes:\n")

	for _, mode := range snap.Modes() {
		s := snap.PassStats[mode]
		sb.WriteString(fmt.Sprintf("  %-10s passes=%-3d failed=%-3d frames=%-8d rtp=%-8d time=%s\n",
			mode+":", s.Passes, s.Failed, s.Frames, s.RTPPackets, s.Elapsed.Round(time.Millisecond)))
	}
	if snap.RegistrationFailures > 0 {
		sb.WriteString(fmt.Sprintf("  Registration failures: %d\n", snap.RegistrationFailures))
	}

	sb.WriteString(fmt.Sprintf("Streams: %d\n", snap.Streams))

	if snap.ExportedPackets > 0 || snap.ExportedBytes > 0 {
		sb.WriteString("Export:\n")
		sb.WriteString(fmt.Sprintf("  Packets: %d  |  Bytes: %d  |  Silence frames: %d  |  Ceiling hits: %d\n",
			snap.ExportedPackets, snap.ExportedBytes, snap.SilenceFrames, snap.CeilingHits))
	}
	if snap.MarkedPackets > 0 {
		sb.WriteString(fmt.Sprintf("Marked packets: %d\n", snap.MarkedPackets))
	}

	sb.WriteString("====================================================\n")
	return sb.String()
}

// PrintFinalReport prints the final statistics summary.
func (r *Reporter) PrintFinalReport() {
	r.collector.Finish()
	fmt.Println(r.FormatReport())
}

// ExportJSON exports statistics and the stream list to a JSON file.
func (r *Reporter) ExportJSON(records []*stream.Record) error {
	if r.exportFile == "" {
		return nil
	}

	snap := r.collector.Snapshot()

	passes := map[string]interface{}{}
	for mode, s := range snap.PassStats {
		passes[mode] = map[string]interface{}{
			"passes":      s.Passes,
			"failed":      s.Failed,
			"frames":      s.Frames,
			"rtp_packets": s.RTPPackets,
			"elapsed_ms":  float64(s.Elapsed) / float64(time.Millisecond),
		}
	}

	export := map[string]interface{}{
		"start_time":   snap.StartTime.Format(time.RFC3339),
		"end_time":     snap.EndTime.Format(time.RFC3339),
		"duration_sec": snap.Duration().Seconds(),
		"passes":       passes,
		"export": map[string]interface{}{
			"packets":        snap.ExportedPackets,
			"bytes":          snap.ExportedBytes,
			"silence_frames": snap.SilenceFrames,
			"ceiling_hits":   snap.CeilingHits,
		},
		"streams": Summarize(records),
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal stats JSON: %w", err)
	}

	if err := os.WriteFile(r.exportFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write stats file %s: %w", r.exportFile, err)
	}

	log.WithField("file", r.exportFile).Info("Statistics exported to JSON")
	return nil
}
