package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.False(t, cfg.Analysis.ApplyDisplayFilter)
	assert.Equal(t, 0, cfg.Analysis.EndGapMs)
	assert.Equal(t, "full", cfg.Analysis.SecureStats)
	assert.True(t, cfg.Dissect.HeuristicRTP)
	assert.Equal(t, 1024, cfg.Dissect.MinPort)
	assert.Equal(t, []int{5060}, cfg.Dissect.SIPPorts)
	assert.Equal(t, "raw", cfg.Export.Format)
	assert.Equal(t, 14400000, cfg.Export.MaxSilenceFrames)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, "config.yaml", `
input:
  pcap_file: call.pcap
analysis:
  display_filter: "udp port 5004"
  apply_display_filter: true
  end_gap_ms: 2000
  secure_stats: count_only
dissect:
  heuristic_rtp: false
  sip_ports: [5060, 5080]
export:
  format: rtpdump
  s3_uri: s3://bucket/exports
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "call.pcap", cfg.Input.PcapFile)
	assert.Equal(t, "udp port 5004", cfg.Analysis.DisplayFilter)
	assert.True(t, cfg.Analysis.ApplyDisplayFilter)
	assert.Equal(t, 2000, cfg.Analysis.EndGapMs)
	assert.Equal(t, "count_only", cfg.Analysis.SecureStats)
	assert.False(t, cfg.Dissect.HeuristicRTP)
	assert.Equal(t, 1024, cfg.Dissect.MinPort)
	assert.Equal(t, []int{5060, 5080}, cfg.Dissect.SIPPorts)
	assert.Equal(t, "rtpdump", cfg.Export.Format)
	assert.Equal(t, "s3://bucket/exports", cfg.Export.S3URI)
	assert.Equal(t, "debug", cfg.Logging.Level)

	assert.Contains(t, cfg.Summary(), "2000ms")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Input.PcapFile = writeFile(t, "call.pcap", "")
	assert.NoError(t, cfg.Validate())
	assert.Contains(t, cfg.Summary(), "never")
}

func TestConfig_ValidateCollectsErrors(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Analysis.EndGapMs = -1
	cfg.Analysis.SecureStats = "partial"
	cfg.Dissect.SIPPorts = []int{0}
	cfg.Export.Format = "wav"
	cfg.Export.MaxSilenceFrames = 0
	cfg.Export.S3URI = "bucket/x"
	cfg.Logging.Level = "trace"

	err = cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"input.pcap_file",
		"analysis.end_gap_ms",
		"analysis.secure_stats",
		"dissect.sip_ports",
		"export.format",
		"export.max_silence_frames",
		"export.s3_uri",
		"logging.level",
	} {
		assert.Contains(t, msg, want)
	}
}
