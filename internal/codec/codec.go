package codec

import "fmt"

// PayloadType describes a statically assigned RTP payload type (RFC 3551).
type PayloadType struct {
	Name      string
	ClockRate uint32

	// SampleSize is the number of bytes carrying one RTP timestamp unit.
	// Zero means the payload is not a plain sample stream and cannot be
	// exported as raw audio.
	SampleSize int
	// Silence is one timestamp unit of silence in the payload encoding.
	Silence []byte
}

// Raw reports whether payloads of this type are plain sample streams.
func (p PayloadType) Raw() bool {
	return p.SampleSize > 0 && len(p.Silence) == p.SampleSize
}

const (
	PCMU         uint8 = 0
	GSM          uint8 = 3
	G723         uint8 = 4
	PCMA         uint8 = 8
	G722         uint8 = 9
	L16Stereo    uint8 = 10
	L16Mono      uint8 = 11
	ComfortNoise uint8 = 13
	G728         uint8 = 15
	G729         uint8 = 18
	H261         uint8 = 31
	MPV          uint8 = 32
	H263         uint8 = 34
	FirstDynamic uint8 = 96
)

// TelephoneEvent is the rtpmap encoding name of RFC 4733 events.
const TelephoneEvent = "telephone-event"

var static = map[uint8]PayloadType{
	PCMU:         {Name: "g711U", ClockRate: 8000, SampleSize: 1, Silence: []byte{0xff}},
	GSM:          {Name: "GSM", ClockRate: 8000},
	G723:         {Name: "g723", ClockRate: 8000},
	5:            {Name: "DVI4 8k", ClockRate: 8000},
	6:            {Name: "DVI4 16k", ClockRate: 16000},
	7:            {Name: "LPC", ClockRate: 8000},
	PCMA:         {Name: "g711A", ClockRate: 8000, SampleSize: 1, Silence: []byte{0xd5}},
	G722:         {Name: "g722", ClockRate: 8000},
	L16Stereo:    {Name: "L16 stereo", ClockRate: 44100, SampleSize: 4, Silence: []byte{0, 0, 0, 0}},
	L16Mono:      {Name: "L16 mono", ClockRate: 44100, SampleSize: 2, Silence: []byte{0, 0}},
	12:           {Name: "QCELP", ClockRate: 8000},
	ComfortNoise: {Name: "CN", ClockRate: 8000},
	14:           {Name: "MPA", ClockRate: 90000},
	G728:         {Name: "g728", ClockRate: 8000},
	16:           {Name: "DVI4 11k", ClockRate: 11025},
	17:           {Name: "DVI4 22k", ClockRate: 22050},
	G729:         {Name: "g729", ClockRate: 8000},
	25:           {Name: "CelB", ClockRate: 90000},
	26:           {Name: "JPEG", ClockRate: 90000},
	28:           {Name: "NV", ClockRate: 90000},
	H261:         {Name: "h261", ClockRate: 90000},
	MPV:          {Name: "MPV", ClockRate: 90000},
	33:           {Name: "MP2T", ClockRate: 90000},
	H263:         {Name: "h263", ClockRate: 90000},
}

// Lookup returns the static description of a payload type.
func Lookup(pt uint8) (PayloadType, bool) {
	p, ok := static[pt]
	return p, ok
}

// Name returns a display name for pt. Names negotiated in signalling take
// precedence over the static table.
func Name(pt uint8, negotiated string) string {
	if negotiated != "" {
		return negotiated
	}
	if p, ok := static[pt]; ok {
		return p.Name
	}
	if pt >= FirstDynamic && pt <= 127 {
		return fmt.Sprintf("RTPType-%d", pt)
	}
	return fmt.Sprintf("Unknown (%d)", pt)
}

// ClockRate returns the RTP clock rate for pt, preferring a negotiated rate.
// Zero means the rate is unknown.
func ClockRate(pt uint8, negotiated uint32) uint32 {
	if negotiated != 0 {
		return negotiated
	}
	return static[pt].ClockRate
}
