package tap

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/looplab/fsm"
	log "github.com/sirupsen/logrus"

	"rtpstream-analyzer/internal/export"
	"rtpstream-analyzer/internal/stats"
	"rtpstream-analyzer/internal/stream"
	"rtpstream-analyzer/pkg/types"
)

// Mode is the purpose of a pass.
type Mode string

const (
	ModeAnalyse Mode = "analyse"
	ModeSave    Mode = "save"
	ModeMark    Mode = "mark"
)

// Pass guard states. Each Mode is the event that enters its state.
const (
	stateIdle      = "idle"
	stateAnalysing = "analysing"
	stateSaving    = "saving"
	stateMarking   = "marking"

	eventFinish = "finish"
)

// Session owns a stream table and runs analyse, save and mark passes over a
// packet source. Only one pass may be active at a time.
type Session struct {
	source    Source
	analyzer  *stream.Analyzer
	table     *stream.Table
	callbacks Callbacks
	guard     *fsm.FSM
	filter    string

	// ApplyDisplayFilter restricts passes to the frames matching the filter
	// given to Scan.
	ApplyDisplayFilter bool
	// Export configures save passes.
	Export export.Options
	// Stats receives pass statistics when set.
	Stats *stats.Collector
}

// NewSession creates an idle session reading from source.
func NewSession(source Source, analyzer *stream.Analyzer, callbacks Callbacks) *Session {
	s := &Session{
		source:    source,
		analyzer:  analyzer,
		table:     stream.NewTable(),
		callbacks: callbacks,
	}
	s.guard = fsm.NewFSM(
		stateIdle,
		fsm.Events{
			{Name: string(ModeAnalyse), Src: []string{stateIdle}, Dst: stateAnalysing},
			{Name: string(ModeSave), Src: []string{stateIdle}, Dst: stateSaving},
			{Name: string(ModeMark), Src: []string{stateIdle}, Dst: stateMarking},
			{Name: eventFinish, Src: []string{stateAnalysing, stateSaving, stateMarking}, Dst: stateIdle},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.WithFields(log.Fields{
					"from": e.Src,
					"to":   e.Dst,
				}).Debug("Tap state changed")
			},
		},
	)
	return s
}

// Table returns the stream table filled by the last scan.
func (s *Session) Table() *stream.Table {
	return s.table
}

// Filter returns the filter of the last successfully registered scan.
func (s *Session) Filter() string {
	return s.filter
}

// IsRegistered reports whether a pass is active.
func (s *Session) IsRegistered() bool {
	return !s.guard.Is(stateIdle)
}

// Mode returns the mode of the active pass, or "" when idle.
func (s *Session) Mode() Mode {
	switch s.guard.Current() {
	case stateAnalysing:
		return ModeAnalyse
	case stateSaving:
		return ModeSave
	case stateMarking:
		return ModeMark
	}
	return ""
}

func (s *Session) begin(mode Mode) error {
	if err := s.guard.Event(context.Background(), string(mode)); err != nil {
		log.WithFields(log.Fields{
			"mode":   mode,
			"active": s.guard.Current(),
		}).Warn("Rejected tap pass, another pass is active")
		return ErrPassActive
	}
	return nil
}

func (s *Session) finish() {
	if err := s.guard.Event(context.Background(), eventFinish); err != nil {
		log.WithError(err).Error("Failed to release tap")
	}
}

func (s *Session) register(filter string) (Pass, error) {
	if !s.ApplyDisplayFilter {
		filter = ""
	}
	pass, err := s.source.Register(filter)
	if err != nil {
		regErr := &RegistrationError{Filter: filter, Err: err}
		log.WithError(err).WithField("filter", filter).Error("Failed to register tap")
		if s.Stats != nil {
			s.Stats.RecordRegistrationFailure()
		}
		s.callbacks.error(regErr.Error())
		return nil, regErr
	}
	return pass, nil
}

func (s *Session) recordPass(mode Mode, frames, rtpPackets uint64, start time.Time, err error) {
	if s.Stats != nil {
		s.Stats.RecordPass(string(mode), frames, rtpPackets, time.Since(start), err)
	}
}

// Scan clears the stream table and rebuilds it from one pass over the
// source. If the pass cannot be registered the table is left untouched.
func (s *Session) Scan(ctx context.Context, filter string) (err error) {
	if err := s.begin(ModeAnalyse); err != nil {
		return err
	}
	defer s.finish()

	pass, err := s.register(filter)
	if err != nil {
		return err
	}

	s.filter = filter
	s.table.Reset()
	s.callbacks.reset(s)

	start := time.Now()
	var frames, rtpPackets uint64
	defer func() { s.recordPass(ModeAnalyse, frames, rtpPackets, start, err) }()

	err = pass.Run(ctx, func(pkt *types.Packet) error {
		frames++
		if rec := s.analyzer.Process(s.table, pkt); rec != nil {
			rtpPackets++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("analysis pass failed: %w", err)
	}

	if s.Stats != nil {
		s.Stats.RecordStreams(s.table.Len())
	}
	log.WithFields(log.Fields{
		"frames":      frames,
		"rtp_packets": rtpPackets,
		"streams":     s.table.Len(),
		"elapsed":     time.Since(start).Round(time.Millisecond),
	}).Info("Stream analysis complete")

	s.callbacks.draw(s)
	return nil
}

// Save writes the packets of rec found within its frame range to filename,
// in the format selected by s.Export.
func (s *Session) Save(ctx context.Context, rec *stream.Record, filename string) (res export.Result, err error) {
	if rec == nil {
		return res, export.ErrNoStream
	}
	if err := s.begin(ModeSave); err != nil {
		return res, err
	}
	defer s.finish()

	if err := export.Check(rec, s.Export); err != nil {
		return res, fmt.Errorf("cannot save stream %s: %w", rec.ID, err)
	}

	pass, err := s.register(s.filter)
	if err != nil {
		return res, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return res, fmt.Errorf("failed to create %s: %w", filename, err)
	}
	defer f.Close()

	w, err := export.NewWriter(f, rec, s.Export)
	if err != nil {
		return res, fmt.Errorf("cannot save stream %s: %w", rec.ID, err)
	}

	start := time.Now()
	var frames, rtpPackets uint64
	defer func() { s.recordPass(ModeSave, frames, rtpPackets, start, err) }()

	err = pass.Run(ctx, func(pkt *types.Packet) error {
		frames++
		if !pkt.HasRTP || pkt.ID != rec.ID || !rec.Contains(pkt.Frame.Num) {
			return nil
		}
		rtpPackets++
		return w.WritePacket(pkt)
	})
	if err == nil {
		err = w.Flush()
	}
	res = export.Summary(w)
	if s.Stats != nil {
		s.Stats.RecordExport(res.Packets, res.Bytes, res.SilenceFrames, res.CeilingHits)
	}
	if err != nil {
		return res, fmt.Errorf("failed to save stream %s to %s: %w", rec.ID, filename, err)
	}
	if err := f.Close(); err != nil {
		return res, fmt.Errorf("failed to close %s: %w", filename, err)
	}

	log.WithFields(log.Fields{
		"file":           filename,
		"stream":         rec.ID.String(),
		"packets":        res.Packets,
		"skipped":        res.Skipped,
		"bytes":          res.Bytes,
		"silence_frames": res.SilenceFrames,
		"ceiling_hits":   res.CeilingHits,
	}).Info("Stream saved")
	return res, nil
}

// Mark reports every frame carrying the identity of fwd or rev to the
// MarkPacket callback. Either record may be nil. The table is not modified.
func (s *Session) Mark(ctx context.Context, fwd, rev *stream.Record) (err error) {
	if err := s.begin(ModeMark); err != nil {
		return err
	}
	defer s.finish()

	pass, err := s.register(s.filter)
	if err != nil {
		return err
	}

	start := time.Now()
	var frames, marked uint64
	defer func() { s.recordPass(ModeMark, frames, marked, start, err) }()

	err = pass.Run(ctx, func(pkt *types.Packet) error {
		frames++
		if !pkt.HasRTP {
			return nil
		}
		if (fwd != nil && pkt.ID == fwd.ID) || (rev != nil && pkt.ID == rev.ID) {
			marked++
			if s.Stats != nil {
				s.Stats.RecordMarked()
			}
			s.callbacks.markPacket(s, pkt.Frame)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark pass failed: %w", err)
	}

	log.WithFields(log.Fields{
		"frames": frames,
		"marked": marked,
	}).Debug("Mark pass complete")
	return nil
}
