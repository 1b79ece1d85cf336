package stats

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_RecordPass(t *testing.T) {
	c := NewCollector()
	c.RecordPass("analyse", 100, 80, 10*time.Millisecond, nil)
	c.RecordPass("analyse", 100, 80, 10*time.Millisecond, errors.New("cancelled"))
	c.RecordPass("mark", 100, 4, time.Millisecond, nil)

	snap := c.Snapshot()
	require.Contains(t, snap.PassStats, "analyse")
	assert.Equal(t, uint64(2), snap.PassStats["analyse"].Passes)
	assert.Equal(t, uint64(1), snap.PassStats["analyse"].Failed)
	assert.Equal(t, uint64(200), snap.PassStats["analyse"].Frames)
	assert.Equal(t, uint64(160), snap.PassStats["analyse"].RTPPackets)
	assert.Equal(t, 20*time.Millisecond, snap.PassStats["analyse"].Elapsed)
	assert.Equal(t, []string{"analyse", "mark"}, snap.Modes())
}

func TestCollector_SnapshotIsCopy(t *testing.T) {
	c := NewCollector()
	c.RecordPass("save", 10, 5, 0, nil)
	snap := c.Snapshot()

	c.RecordPass("save", 10, 5, 0, nil)
	c.RecordExport(5, 800, 0, 0)

	assert.Equal(t, uint64(1), snap.PassStats["save"].Passes)
	assert.Equal(t, uint64(0), snap.ExportedBytes)
	assert.Equal(t, uint64(800), c.Snapshot().ExportedBytes)
}

func TestCollector_Metrics(t *testing.T) {
	c := NewCollector()
	c.RecordPass("analyse", 10, 6, 0, nil)
	c.RecordStreams(3)
	c.RecordExport(5, 800, 1000, 1)
	c.RecordRegistrationFailure()
	c.RecordMarked()
	c.RecordMarked()

	families, err := c.registry.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[mf.GetName()] += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[mf.GetName()] = m.GetGauge().GetValue()
			}
		}
	}

	assert.Equal(t, float64(3), values["rtpstreams_analysis_streams"])
	assert.Equal(t, float64(1), values["rtpstreams_export_silence_ceiling_hits_total"])
	assert.Equal(t, float64(1000), values["rtpstreams_export_silence_frames_total"])
	assert.Equal(t, float64(800), values["rtpstreams_export_bytes_total"])
	assert.Equal(t, float64(2), values["rtpstreams_mark_packets_total"])
	assert.Equal(t, float64(1), values["rtpstreams_tap_registration_failures_total"])
	assert.Equal(t, float64(6), values["rtpstreams_tap_rtp_packets_total"])
	assert.Equal(t, uint64(2), c.MarkedPackets)
}

func TestCollector_WriteMetrics(t *testing.T) {
	c := NewCollector()
	c.RecordPass("analyse", 10, 6, 0, nil)

	path := filepath.Join(t.TempDir(), "rtpstreams.prom")
	require.NoError(t, c.WriteMetrics(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `rtpstreams_tap_frames_total{mode="analyse"} 10`)
	assert.Contains(t, string(data), `rtpstreams_tap_passes_total{mode="analyse",result="ok"} 1`)
}

func TestCollector_Duration(t *testing.T) {
	c := NewCollector()
	c.StartTime = time.Now().Add(-time.Second)
	c.Finish()
	assert.GreaterOrEqual(t, c.Duration(), time.Second)
}
