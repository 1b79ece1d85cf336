package stream

import (
	log "github.com/sirupsen/logrus"

	"rtpstream-analyzer/pkg/types"
)

// Table owns every stream record of an analysis session. Records are kept
// in creation order; the identity index maps a StreamID to the positions of
// all records that used it, since SSRCs get reused over time.
type Table struct {
	records []*Record
	byID    map[types.StreamID][]int
}

// NewTable creates an empty stream table.
func NewTable() *Table {
	return &Table{byID: make(map[types.StreamID][]int)}
}

// Reset discards all records.
func (t *Table) Reset() {
	t.records = nil
	t.byID = make(map[types.StreamID][]int)
}

// FindOrCreate returns the live record for id. When there is none, or when
// expired reports that the live record has ended, a new record is appended.
// expired may be nil.
func (t *Table) FindOrCreate(id types.StreamID, expired func(*Record) bool) *Record {
	if rec := t.live(id); rec != nil {
		if expired == nil || !expired(rec) {
			return rec
		}
		t.MarkEnded(rec)
		log.WithFields(log.Fields{
			"stream":     id.String(),
			"packets":    rec.PacketCount,
			"last_frame": rec.LastFrame,
		}).Debug("Stream expired, starting new record")
	}

	rec := newRecord(id)
	t.byID[id] = append(t.byID[id], len(t.records))
	t.records = append(t.records, rec)
	return rec
}

// live returns the most recently created record for id that has not ended.
func (t *Table) live(id types.StreamID) *Record {
	idx := t.byID[id]
	for i := len(idx) - 1; i >= 0; i-- {
		if rec := t.records[idx[i]]; !rec.Ended {
			return rec
		}
	}
	return nil
}

// MarkEnded closes rec; later packets with its identity start a new record.
func (t *Table) MarkEnded(rec *Record) {
	rec.Ended = true
}

// Lookup returns every record that used id, oldest first.
func (t *Table) Lookup(id types.StreamID) []*Record {
	idx := t.byID[id]
	if len(idx) == 0 {
		return nil
	}
	recs := make([]*Record, 0, len(idx))
	for _, i := range idx {
		recs = append(recs, t.records[i])
	}
	return recs
}

// EndBySource closes every live record sent from the endpoint that issued
// an RTCP BYE for one of its SSRCs. RTCP runs on the RTP port + 1, or on
// the RTP port itself when multiplexed.
func (t *Table) EndBySource(bye *types.Bye) int {
	ended := 0
	for _, rec := range t.records {
		if rec.Ended || rec.ID.SrcAddr != bye.Addr {
			continue
		}
		if rec.ID.SrcPort != bye.Port && rec.ID.SrcPort+1 != bye.Port {
			continue
		}
		for _, ssrc := range bye.SSRCs {
			if rec.ID.SSRC == ssrc {
				t.MarkEnded(rec)
				ended++
				break
			}
		}
	}
	return ended
}

// Streams returns the records in creation order. The slice must not be modified.
func (t *Table) Streams() []*Record {
	return t.records
}

// Len returns the number of records.
func (t *Table) Len() int {
	return len(t.records)
}

// TotalPackets returns the number of packets attributed to all records.
func (t *Table) TotalPackets() uint64 {
	var total uint64
	for _, rec := range t.records {
		total += uint64(rec.PacketCount)
	}
	return total
}
