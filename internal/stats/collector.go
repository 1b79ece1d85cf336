package stats

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rtpstreams"

// PassStats holds per-mode pass statistics.
type PassStats struct {
	Passes     uint64
	Failed     uint64
	Frames     uint64
	RTPPackets uint64
	Elapsed    time.Duration
}

// Collector aggregates operational statistics of tap passes.
type Collector struct {
	StartTime time.Time
	EndTime   time.Time

	PassStats map[string]*PassStats

	Streams              uint64 // records in the table after the last scan
	RegistrationFailures uint64
	ExportedPackets      uint64
	ExportedBytes        uint64
	SilenceFrames        uint64
	CeilingHits          uint64
	MarkedPackets        uint64

	mu       sync.Mutex
	registry *prometheus.Registry
	metrics  *metrics
}

type metrics struct {
	passes        *prometheus.CounterVec
	frames        *prometheus.CounterVec
	rtpPackets    *prometheus.CounterVec
	regFailures   prometheus.Counter
	streams       prometheus.Gauge
	silenceFrames prometheus.Counter
	ceilingHits   prometheus.Counter
	exportedBytes prometheus.Counter
	marked        prometheus.Counter
}

// NewCollector creates a new statistics collector with its own metrics registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &metrics{
		passes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tap",
			Name:      "passes_total",
			Help:      "Number of completed passes over the capture",
		}, []string{"mode", "result"}),
		frames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tap",
			Name:      "frames_total",
			Help:      "Frames delivered to passes",
		}, []string{"mode"}),
		rtpPackets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tap",
			Name:      "rtp_packets_total",
			Help:      "RTP packets delivered to passes",
		}, []string{"mode"}),
		regFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tap",
			Name:      "registration_failures_total",
			Help:      "Passes that could not be registered with the packet source",
		}),
		streams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "streams",
			Help:      "Stream records found by the last scan",
		}),
		silenceFrames: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "export",
			Name:      "silence_frames_total",
			Help:      "Silence frames inserted into exports",
		}),
		ceilingHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "export",
			Name:      "silence_ceiling_hits_total",
			Help:      "Timing gaps truncated to the silence limit",
		}),
		exportedBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "export",
			Name:      "bytes_total",
			Help:      "Bytes written to export files",
		}),
		marked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mark",
			Name:      "packets_total",
			Help:      "Packets reported to the mark callback",
		}),
	}

	return &Collector{
		StartTime: time.Now(),
		PassStats: make(map[string]*PassStats),
		registry:  reg,
		metrics:   m,
	}
}

func (c *Collector) getOrCreate(mode string) *PassStats {
	if _, ok := c.PassStats[mode]; !ok {
		c.PassStats[mode] = &PassStats{}
	}
	return c.PassStats[mode]
}

// RecordPass records a finished pass.
func (c *Collector) RecordPass(mode string, frames, rtpPackets uint64, elapsed time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.getOrCreate(mode)
	s.Passes++
	s.Frames += frames
	s.RTPPackets += rtpPackets
	s.Elapsed += elapsed

	result := "ok"
	if err != nil {
		s.Failed++
		result = "error"
	}
	c.metrics.passes.WithLabelValues(mode, result).Inc()
	c.metrics.frames.WithLabelValues(mode).Add(float64(frames))
	c.metrics.rtpPackets.WithLabelValues(mode).Add(float64(rtpPackets))
}

// RecordRegistrationFailure records a pass the source refused.
func (c *Collector) RecordRegistrationFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RegistrationFailures++
	c.metrics.regFailures.Inc()
}

// RecordStreams records the number of streams found by a scan.
func (c *Collector) RecordStreams(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Streams = uint64(n)
	c.metrics.streams.Set(float64(n))
}

// RecordExport records the outcome of a save pass.
func (c *Collector) RecordExport(packets, bytes, silenceFrames, ceilingHits uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ExportedPackets += packets
	c.ExportedBytes += bytes
	c.SilenceFrames += silenceFrames
	c.CeilingHits += ceilingHits
	c.metrics.exportedBytes.Add(float64(bytes))
	c.metrics.silenceFrames.Add(float64(silenceFrames))
	c.metrics.ceilingHits.Add(float64(ceilingHits))
}

// RecordMarked records one packet reported to the mark callback.
func (c *Collector) RecordMarked() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.MarkedPackets++
	c.metrics.marked.Inc()
}

// Finish marks the end of the collection period.
func (c *Collector) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EndTime = time.Now()
}

// Duration returns the elapsed time.
func (c *Collector) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.EndTime.IsZero() {
		return time.Since(c.StartTime)
	}
	return c.EndTime.Sub(c.StartTime)
}

// Modes returns the pass modes seen so far, sorted.
func (c *Collector) Modes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	modes := make([]string, 0, len(c.PassStats))
	for m := range c.PassStats {
		modes = append(modes, m)
	}
	sort.Strings(modes)
	return modes
}

// WriteMetrics writes the metrics registry in the Prometheus text format, for
// the node exporter textfile collector.
func (c *Collector) WriteMetrics(filename string) error {
	if err := prometheus.WriteToTextfile(filename, c.registry); err != nil {
		return fmt.Errorf("failed to write metrics file %s: %w", filename, err)
	}
	return nil
}

// Snapshot returns a copy of the current statistics (thread-safe).
func (c *Collector) Snapshot() *Collector {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := &Collector{
		StartTime:            c.StartTime,
		EndTime:              c.EndTime,
		PassStats:            make(map[string]*PassStats, len(c.PassStats)),
		Streams:              c.Streams,
		RegistrationFailures: c.RegistrationFailures,
		ExportedPackets:      c.ExportedPackets,
		ExportedBytes:        c.ExportedBytes,
		SilenceFrames:        c.SilenceFrames,
		CeilingHits:          c.CeilingHits,
		MarkedPackets:        c.MarkedPackets,
	}
	for k, v := range c.PassStats {
		cp := *v
		snap.PassStats[k] = &cp
	}
	return snap
}
