package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStats_DuplicateWindowAcrossWraps(t *testing.T) {
	var s Stats
	const total = 200000
	for i := uint32(1); i <= total; i++ {
		pkt := pcmuPacket(testID(1), i, uint16(i))
		pkt.Timestamp = i * 160
		s.update(pkt, 8000)
	}

	assert.Equal(t, uint32(0), s.Duplicates)
	assert.Equal(t, uint32(3), s.Cycles)
	assert.Equal(t, int64(0), s.Lost())
	assert.Len(t, s.seen, seqWindowSize/64)

	last := pcmuPacket(testID(1), total+1, uint16(total&0xffff))
	flags := s.update(last, 8000)
	assert.NotZero(t, flags&FlagDuplicate)

	older := pcmuPacket(testID(1), total+2, uint16((total-30000)&0xffff))
	flags = s.update(older, 8000)
	assert.NotZero(t, flags&FlagDuplicate)
	assert.Equal(t, uint32(2), s.Duplicates)
}

func TestStats_LateUnseenPacketIsNotDuplicate(t *testing.T) {
	var s Stats
	for _, seq := range []uint16{1, 2, 4, 5} {
		s.update(pcmuPacket(testID(1), uint32(seq), seq), 8000)
	}
	require.Equal(t, int64(1), s.Lost())

	flags := s.update(pcmuPacket(testID(1), 6, 3), 8000)
	assert.Zero(t, flags&FlagDuplicate)
	assert.NotZero(t, flags&FlagOutOfOrder)
	assert.Equal(t, int64(0), s.Lost())
}
