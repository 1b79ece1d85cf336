package types

import (
	"fmt"
	"net/netip"
	"time"
)

// StreamID identifies an RTP flow. SSRC values may be reused over the
// lifetime of a capture, so a StreamID is not unique over time.
type StreamID struct {
	SrcAddr netip.Addr
	SrcPort uint16
	DstAddr netip.Addr
	DstPort uint16
	SSRC    uint32
}

// IsIPv6 reports whether the flow runs over IPv6.
func (id StreamID) IsIPv6() bool {
	return id.SrcAddr.Is6() && !id.SrcAddr.Is4In6()
}

// Source returns the sending endpoint.
func (id StreamID) Source() netip.AddrPort {
	return netip.AddrPortFrom(id.SrcAddr, id.SrcPort)
}

// Destination returns the receiving endpoint.
func (id StreamID) Destination() netip.AddrPort {
	return netip.AddrPortFrom(id.DstAddr, id.DstPort)
}

func (id StreamID) String() string {
	return fmt.Sprintf("%s -> %s ssrc=0x%08X", id.Source(), id.Destination(), id.SSRC)
}

// Frame references a captured frame without owning its data.
type Frame struct {
	Num     uint32        // 1-based frame number in the capture
	RelTime time.Duration // arrival relative to the first frame
	AbsTime time.Time
}

// Codec describes a payload type negotiated in SDP.
type Codec struct {
	Name      string
	ClockRate uint32
}

// Setup links media endpoints to the signalling that negotiated them.
type Setup struct {
	CallID string
	Frame  uint32
	Secure bool // RTP/SAVP or RTP/SAVPF profile
	Codecs map[uint8]Codec
}

// Bye carries the sources announced as leaving by an RTCP BYE.
type Bye struct {
	Addr  netip.Addr
	Port  uint16 // RTCP source port
	SSRCs []uint32
}

// Packet holds the RTP attributes the dissector extracted from one frame.
type Packet struct {
	Frame Frame

	HasRTP      bool
	ID          StreamID
	SeqNum      uint16
	Timestamp   uint32
	PayloadType uint8
	PayloadName string // resolved from signalling, empty when unknown
	ClockRate   uint32 // from signalling, zero when unknown
	Marker      bool
	Secure      bool

	HasVLAN bool
	VLANID  uint16
	DSCP    uint8

	ExtensionProfile uint16
	Payload          []byte
	Raw              []byte // complete RTP packet

	Setup *Setup
	Bye   *Bye
}
