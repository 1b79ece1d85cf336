package dissect

import (
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	log "github.com/sirupsen/logrus"

	"rtpstream-analyzer/pkg/types"
)

const (
	rtpVersion     = 2
	minRTPLen      = 12
	minRTCPLen     = 8
	rtcpTypeLow    = 192
	rtcpTypeHigh   = 223
	defaultSIPPort = 5060
	defaultMinPort = 1024
)

// Options controls which UDP payloads are treated as RTP.
type Options struct {
	// HeuristicRTP accepts any version 2 UDP payload as RTP, not only
	// flows negotiated in SDP.
	HeuristicRTP bool
	// MinPort is the lowest UDP port the heuristic accepts on either side.
	MinPort uint16
	// SIPPorts are the UDP ports carrying SIP signalling.
	SIPPorts []uint16
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		HeuristicRTP: true,
		MinPort:      defaultMinPort,
		SIPPorts:     []uint16{defaultSIPPort},
	}
}

// Dissector extracts RTP attributes from captured frames. It remembers the
// media endpoints negotiated in SIP/SDP, so one Dissector must see the frames
// of a pass in order; call Reset before every pass.
type Dissector struct {
	opts     Options
	sipPorts map[uint16]bool
	setups   map[netip.AddrPort]*types.Setup
}

// New creates a dissector.
func New(opts Options) *Dissector {
	sipPorts := make(map[uint16]bool, len(opts.SIPPorts))
	for _, p := range opts.SIPPorts {
		sipPorts[p] = true
	}
	return &Dissector{
		opts:     opts,
		sipPorts: sipPorts,
		setups:   make(map[netip.AddrPort]*types.Setup),
	}
}

// Reset forgets all negotiated media endpoints.
func (d *Dissector) Reset() {
	d.setups = make(map[netip.AddrPort]*types.Setup)
}

// Dissect decodes one frame. The returned packet always carries frame; its
// HasRTP field reports whether RTP attributes were found.
func (d *Dissector) Dissect(frame types.Frame, data []byte, linkType layers.LinkType) *types.Packet {
	pkt := &types.Packet{Frame: frame}
	packet := gopacket.NewPacket(data, linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	if dot1q, ok := packet.Layer(layers.LayerTypeDot1Q).(*layers.Dot1Q); ok {
		pkt.HasVLAN = true
		pkt.VLANID = dot1q.VLANIdentifier
	}

	var srcIP, dstIP net.IP
	if ip4, ok := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4); ok {
		srcIP, dstIP = ip4.SrcIP, ip4.DstIP
		pkt.DSCP = ip4.TOS >> 2
	} else if ip6, ok := packet.Layer(layers.LayerTypeIPv6).(*layers.IPv6); ok {
		srcIP, dstIP = ip6.SrcIP, ip6.DstIP
		pkt.DSCP = ip6.TrafficClass >> 2
	} else {
		return pkt
	}

	udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok || len(udp.Payload) == 0 {
		return pkt
	}

	src := netip.AddrPortFrom(toAddr(srcIP), uint16(udp.SrcPort))
	dst := netip.AddrPortFrom(toAddr(dstIP), uint16(udp.DstPort))
	payload := udp.Payload

	if d.sipPorts[src.Port()] || d.sipPorts[dst.Port()] {
		d.dissectSIP(frame, payload)
		return pkt
	}

	if len(payload) < minRTCPLen || payload[0]>>6 != rtpVersion {
		return pkt
	}
	if payload[1] >= rtcpTypeLow && payload[1] <= rtcpTypeHigh {
		pkt.Bye = dissectBye(src, payload)
		return pkt
	}

	setup := d.lookupSetup(dst, src)
	if setup == nil && !d.heuristicMatch(src, dst) {
		return pkt
	}
	if len(payload) < minRTPLen {
		return pkt
	}

	var r rtp.Packet
	if err := r.Unmarshal(payload); err != nil {
		log.WithError(err).WithField("frame", frame.Num).Debug("Failed to decode RTP header, skipping")
		return pkt
	}

	pkt.HasRTP = true
	pkt.ID = types.StreamID{
		SrcAddr: src.Addr(),
		SrcPort: src.Port(),
		DstAddr: dst.Addr(),
		DstPort: dst.Port(),
		SSRC:    r.SSRC,
	}
	pkt.SeqNum = r.SequenceNumber
	pkt.Timestamp = r.Timestamp
	pkt.PayloadType = r.PayloadType
	pkt.Marker = r.Marker
	if r.Extension {
		pkt.ExtensionProfile = r.ExtensionProfile
	}
	pkt.Payload = r.Payload
	pkt.Raw = payload

	if setup != nil {
		pkt.Setup = setup
		pkt.Secure = setup.Secure
		if c, ok := setup.Codecs[r.PayloadType]; ok {
			pkt.PayloadName = c.Name
			pkt.ClockRate = c.ClockRate
		}
	}
	return pkt
}

func (d *Dissector) heuristicMatch(src, dst netip.AddrPort) bool {
	if !d.opts.HeuristicRTP {
		return false
	}
	return src.Port() >= d.opts.MinPort && dst.Port() >= d.opts.MinPort
}

func (d *Dissector) lookupSetup(endpoints ...netip.AddrPort) *types.Setup {
	for _, ep := range endpoints {
		if s, ok := d.setups[ep]; ok {
			return s
		}
	}
	return nil
}

func dissectBye(src netip.AddrPort, payload []byte) *types.Bye {
	pkts, err := rtcp.Unmarshal(payload)
	if err != nil {
		return nil
	}
	var bye *types.Bye
	for _, p := range pkts {
		g, ok := p.(*rtcp.Goodbye)
		if !ok {
			continue
		}
		if bye == nil {
			bye = &types.Bye{Addr: src.Addr(), Port: src.Port()}
		}
		bye.SSRCs = append(bye.SSRCs, g.Sources...)
	}
	return bye
}

func toAddr(ip net.IP) netip.Addr {
	addr, _ := netip.AddrFromSlice(ip)
	return addr.Unmap()
}
