package stream

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtpstream-analyzer/pkg/types"
)

func testID(ssrc uint32) types.StreamID {
	return types.StreamID{
		SrcAddr: netip.MustParseAddr("10.0.0.1"),
		SrcPort: 40000,
		DstAddr: netip.MustParseAddr("10.0.0.2"),
		DstPort: 50000,
		SSRC:    ssrc,
	}
}

func TestTable_FindOrCreate_ReusesLiveRecord(t *testing.T) {
	table := NewTable()
	a := table.FindOrCreate(testID(1), nil)
	b := table.FindOrCreate(testID(1), nil)
	assert.Same(t, a, b)
	assert.Equal(t, 1, table.Len())
}

func TestTable_FindOrCreate_DistinctIdentities(t *testing.T) {
	table := NewTable()
	a := table.FindOrCreate(testID(1), nil)
	b := table.FindOrCreate(testID(2), nil)
	assert.NotSame(t, a, b)
	assert.Equal(t, 2, table.Len())
	assert.Equal(t, []*Record{a, b}, table.Streams())
}

func TestTable_FindOrCreate_AfterMarkEnded(t *testing.T) {
	table := NewTable()
	a := table.FindOrCreate(testID(1), nil)
	table.MarkEnded(a)

	b := table.FindOrCreate(testID(1), nil)
	assert.NotSame(t, a, b)
	assert.True(t, a.Ended)
	assert.False(t, b.Ended)
	assert.Equal(t, 2, table.Len())
}

func TestTable_FindOrCreate_Expired(t *testing.T) {
	table := NewTable()
	a := table.FindOrCreate(testID(1), nil)
	b := table.FindOrCreate(testID(1), func(*Record) bool { return true })
	assert.NotSame(t, a, b)
	assert.True(t, a.Ended, "expired record must be marked ended")

	// The expiry predicate is not consulted for the fresh record.
	c := table.FindOrCreate(testID(1), func(*Record) bool { return false })
	assert.Same(t, b, c)
}

func TestTable_Lookup_ReturnsAllMatches(t *testing.T) {
	table := NewTable()
	a := table.FindOrCreate(testID(1), nil)
	table.MarkEnded(a)
	table.FindOrCreate(testID(2), nil)
	b := table.FindOrCreate(testID(1), nil)

	recs := table.Lookup(testID(1))
	require.Len(t, recs, 2)
	assert.Same(t, a, recs[0])
	assert.Same(t, b, recs[1])

	assert.Nil(t, table.Lookup(testID(9)))
}

func TestTable_Reset(t *testing.T) {
	table := NewTable()
	rec := table.FindOrCreate(testID(1), nil)
	rec.PacketCount = 4

	table.Reset()
	assert.Equal(t, 0, table.Len())
	assert.Equal(t, uint64(0), table.TotalPackets())
	assert.Nil(t, table.Lookup(testID(1)))
}

func TestTable_TotalPackets(t *testing.T) {
	table := NewTable()
	table.FindOrCreate(testID(1), nil).PacketCount = 3
	table.FindOrCreate(testID(2), nil).PacketCount = 7
	assert.Equal(t, uint64(10), table.TotalPackets())
}

func TestTable_EndBySource(t *testing.T) {
	table := NewTable()
	a := table.FindOrCreate(testID(1), nil)
	b := table.FindOrCreate(testID(2), nil)

	n := table.EndBySource(&types.Bye{
		Addr:  netip.MustParseAddr("10.0.0.1"),
		Port:  40001,
		SSRCs: []uint32{1},
	})
	assert.Equal(t, 1, n)
	assert.True(t, a.Ended)
	assert.False(t, b.Ended)
}

func TestTable_EndBySource_OtherHost(t *testing.T) {
	table := NewTable()
	a := table.FindOrCreate(testID(1), nil)

	n := table.EndBySource(&types.Bye{
		Addr:  netip.MustParseAddr("10.0.0.3"),
		Port:  40001,
		SSRCs: []uint32{1},
	})
	assert.Equal(t, 0, n)
	assert.False(t, a.Ended)
}

func TestTable_EndBySource_Multiplexed(t *testing.T) {
	table := NewTable()
	a := table.FindOrCreate(testID(1), nil)

	table.EndBySource(&types.Bye{
		Addr:  netip.MustParseAddr("10.0.0.1"),
		Port:  40000,
		SSRCs: []uint32{1},
	})
	assert.True(t, a.Ended)
}
