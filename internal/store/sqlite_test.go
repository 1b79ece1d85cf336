package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtpstream-analyzer/internal/stats"
)

func TestStore_SaveScan(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "db", "scans.db"))
	require.NoError(t, err)
	defer s.Close()

	streams := []stats.StreamSummary{
		{
			Index:        1,
			Source:       "10.0.0.1:40000",
			Destination:  "10.0.0.2:50000",
			SSRC:         "0x00001111",
			PayloadTypes: "g711U",
			Packets:      5,
			Expected:     6,
			Lost:         1,
			MaxDeltaMs:   40,
			FirstFrame:   1,
			LastFrame:    5,
			Ended:        true,
			Problem:      true,
		},
		{
			Index:       2,
			Source:      "10.0.0.1:40000",
			Destination: "10.0.0.2:50000",
			SSRC:        "0x00001111",
			Packets:     3,
			CallID:      "abc@host",
			Secure:      true,
		},
	}

	id, err := s.SaveScan("capture.pcap", "udp", streams)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	got, err := s.Streams(id)
	require.NoError(t, err)
	assert.Equal(t, streams, got)

	scans, err := s.Scans()
	require.NoError(t, err)
	require.Len(t, scans, 1)
	assert.Equal(t, id, scans[0].ID)
	assert.Equal(t, "capture.pcap", scans[0].Capture)
	assert.Equal(t, "udp", scans[0].Filter)
	assert.Equal(t, 2, scans[0].Streams)
	assert.False(t, scans[0].CreatedAt.IsZero())
}

func TestStore_ScansAreSeparate(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "scans.db"))
	require.NoError(t, err)
	defer s.Close()

	first, err := s.SaveScan("a.pcap", "", []stats.StreamSummary{{Index: 1, Packets: 10}})
	require.NoError(t, err)
	second, err := s.SaveScan("a.pcap", "", nil)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	got, err := s.Streams(second)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.Streams(first)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint32(10), got[0].Packets)

	scans, err := s.Scans()
	require.NoError(t, err)
	require.Len(t, scans, 2)
	assert.Equal(t, second, scans[0].ID)
	assert.Equal(t, 0, scans[0].Streams)
	assert.Equal(t, first, scans[1].ID)
}
