package stream

import (
	"time"

	"rtpstream-analyzer/pkg/types"
)

// Flag records the irregularities observed on a single packet.
type Flag uint16

const (
	FlagFirst Flag = 1 << iota
	FlagMarker
	FlagSeqGap
	FlagDuplicate
	FlagOutOfOrder
	FlagWrongTimestamp
	FlagPayloadChange
)

// problemFlags are the flags that mark the whole stream as problematic.
const problemFlags = FlagSeqGap | FlagDuplicate | FlagOutOfOrder | FlagWrongTimestamp

// Stats holds the sequence, loss and timing statistics of one stream.
type Stats struct {
	Received   uint32
	Bytes      uint64
	Duplicates uint32
	OutOfOrder uint32
	SeqErrors  uint32 // sequence gaps
	TSErrors   uint32 // backward timestamps
	Markers    uint32
	PTChanges  uint32

	BaseSeq uint16
	MaxSeq  uint16
	Cycles  uint32
	LastSeq uint16
	LastTS  uint32
	LastPT  uint8

	ClockRate     uint32
	Jitter        float64 // ms
	MaxJitter     float64 // ms
	MeanJitter    float64 // ms
	Delta         float64 // ms between the last two arrivals
	MaxDelta      float64 // ms
	MaxDeltaFrame uint32

	Flags Flag // flags of the last packet

	lastArrival time.Duration
	lastTransit float64
	jitter      float64 // RTP clock units
	jitterSum   float64
	jitterCount uint32
	seen        seqWindow
}

// seqWindow remembers which of the last 65536 extended sequence numbers
// arrived, one bit per sequence number.
type seqWindow []uint64

const seqWindowSize = 1 << 16

func newSeqWindow() seqWindow {
	return make(seqWindow, seqWindowSize/64)
}

func (w seqWindow) has(ext uint32) bool {
	i := ext % seqWindowSize
	return w[i/64]&(1<<(i%64)) != 0
}

func (w seqWindow) set(ext uint32) {
	i := ext % seqWindowSize
	w[i/64] |= 1 << (i % 64)
}

// advance forgets the slots of (from, to], which held sequence numbers a
// full window older.
func (w seqWindow) advance(from, to uint32) {
	for ext := from + 1; ext != to+1; ext++ {
		i := ext % seqWindowSize
		w[i/64] &^= 1 << (i % 64)
	}
}

// ExtendedMaxSeq returns the highest sequence number including wrap cycles.
func (s *Stats) ExtendedMaxSeq() uint32 {
	return s.Cycles<<16 | uint32(s.MaxSeq)
}

// Expected returns the number of packets the sequence range implies.
func (s *Stats) Expected() uint32 {
	if s.Received == 0 {
		return 0
	}
	return s.ExtendedMaxSeq() - uint32(s.BaseSeq) + 1
}

// Lost returns the number of packets missing from the sequence range.
// Negative values mean more unique packets arrived than the range implies.
func (s *Stats) Lost() int64 {
	return int64(s.Expected()) - int64(s.Received-s.Duplicates)
}

// LossRatio returns Lost over Expected.
func (s *Stats) LossRatio() float64 {
	expected := s.Expected()
	if expected == 0 {
		return 0
	}
	return float64(s.Lost()) / float64(expected)
}

// update feeds one packet into the statistics and returns its flags.
func (s *Stats) update(pkt *types.Packet, clockRate uint32) Flag {
	var flags Flag
	if pkt.Marker {
		flags |= FlagMarker
		s.Markers++
	}
	if clockRate != 0 {
		s.ClockRate = clockRate
	}

	if s.Received == 0 {
		s.seen = newSeqWindow()
		s.BaseSeq = pkt.SeqNum
		s.MaxSeq = pkt.SeqNum
		s.seen.set(uint32(pkt.SeqNum))
		s.LastPT = pkt.PayloadType
		s.lastArrival = pkt.Frame.RelTime
		s.lastTransit = s.transit(pkt)
		s.finish(pkt)
		s.Flags = flags | FlagFirst
		return s.Flags
	}

	if pkt.PayloadType != s.LastPT {
		flags |= FlagPayloadChange
		s.PTChanges++
		// A new payload type restarts the timestamp base.
		s.lastTransit = s.transit(pkt)
		s.LastPT = pkt.PayloadType
	}

	arrivalDelta := pkt.Frame.RelTime - s.lastArrival
	s.Delta = float64(arrivalDelta) / float64(time.Millisecond)
	if s.Delta > s.MaxDelta {
		s.MaxDelta = s.Delta
		s.MaxDeltaFrame = pkt.Frame.Num
	}
	s.lastArrival = pkt.Frame.RelTime

	diff := int16(pkt.SeqNum - s.MaxSeq)
	ext := s.extend(pkt.SeqNum, diff)
	if diff > 0 {
		s.seen.advance(s.ExtendedMaxSeq(), ext)
	} else if s.seen.has(ext) {
		flags |= FlagDuplicate
		s.Duplicates++
		s.finish(pkt)
		s.Flags = flags
		return flags
	}
	s.seen.set(ext)

	switch {
	case diff > 0:
		if diff > 1 {
			flags |= FlagSeqGap
			s.SeqErrors++
		}
		if pkt.SeqNum < s.MaxSeq {
			s.Cycles++
		}
		s.MaxSeq = pkt.SeqNum
		if flags&FlagPayloadChange == 0 && int32(pkt.Timestamp-s.LastTS) < 0 {
			flags |= FlagWrongTimestamp
			s.TSErrors++
		}
	case diff < 0:
		flags |= FlagOutOfOrder
		s.OutOfOrder++
	}

	if flags&FlagPayloadChange == 0 {
		s.updateJitter(pkt)
	}
	s.finish(pkt)
	s.Flags = flags
	return flags
}

// extend maps seq onto the extended sequence space given its signed
// distance from the current maximum.
func (s *Stats) extend(seq uint16, diff int16) uint32 {
	cycles := s.Cycles
	switch {
	case diff > 0 && seq < s.MaxSeq:
		cycles++
	case diff < 0 && seq > s.MaxSeq && cycles > 0:
		cycles--
	}
	return cycles<<16 | uint32(seq)
}

// transit is the RFC 3550 relative transit time in RTP clock units.
func (s *Stats) transit(pkt *types.Packet) float64 {
	if s.ClockRate == 0 {
		return 0
	}
	return pkt.Frame.RelTime.Seconds()*float64(s.ClockRate) - float64(pkt.Timestamp)
}

func (s *Stats) updateJitter(pkt *types.Packet) {
	if s.ClockRate == 0 {
		return
	}
	transit := s.transit(pkt)
	d := transit - s.lastTransit
	if d < 0 {
		d = -d
	}
	s.lastTransit = transit
	s.jitter += (d - s.jitter) / 16

	s.Jitter = s.jitter * 1000 / float64(s.ClockRate)
	if s.Jitter > s.MaxJitter {
		s.MaxJitter = s.Jitter
	}
	s.jitterSum += s.Jitter
	s.jitterCount++
	s.MeanJitter = s.jitterSum / float64(s.jitterCount)
}

func (s *Stats) finish(pkt *types.Packet) {
	s.Received++
	s.Bytes += uint64(len(pkt.Payload))
	s.LastSeq = pkt.SeqNum
	s.LastTS = pkt.Timestamp
}
