package dissect

import (
	"net/netip"
	"strconv"
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/pion/sdp/v3"
	log "github.com/sirupsen/logrus"

	"rtpstream-analyzer/pkg/types"
)

// dissectSIP registers the media endpoints offered or answered in the SDP
// body of a SIP message.
func (d *Dissector) dissectSIP(frame types.Frame, payload []byte) {
	msg, err := sip.ParseMessage(payload)
	if err != nil {
		log.WithError(err).WithField("frame", frame.Num).Debug("Failed to parse SIP message, skipping")
		return
	}
	body := msg.Body()
	if len(body) == 0 {
		return
	}

	var callID string
	if h := msg.CallID(); h != nil {
		callID = h.Value()
	}

	endpoints, err := parseSDP(body, callID, frame.Num)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"frame":   frame.Num,
			"call_id": callID,
		}).Debug("Failed to parse SDP body, skipping")
		return
	}
	for ep, setup := range endpoints {
		d.setups[ep] = setup
		log.WithFields(log.Fields{
			"frame":    frame.Num,
			"call_id":  callID,
			"endpoint": ep.String(),
			"secure":   setup.Secure,
		}).Debug("Registered media endpoint from SDP")
	}
}

// parseSDP returns the RTP receive endpoints described by an SDP body.
func parseSDP(body []byte, callID string, frame uint32) (map[netip.AddrPort]*types.Setup, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal(body); err != nil {
		return nil, err
	}

	sessionAddr := connectionAddr(sd.ConnectionInformation)
	endpoints := make(map[netip.AddrPort]*types.Setup)

	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Port.Value <= 0 || md.MediaName.Port.Value > 0xffff {
			continue
		}
		addr := connectionAddr(md.ConnectionInformation)
		if !addr.IsValid() {
			addr = sessionAddr
		}
		if !addr.IsValid() {
			continue
		}

		proto := strings.Join(md.MediaName.Protos, "/")
		if !strings.HasPrefix(proto, "RTP/") {
			continue
		}

		setup := &types.Setup{
			CallID: callID,
			Frame:  frame,
			Secure: strings.HasPrefix(proto, "RTP/SAVP"),
			Codecs: make(map[uint8]types.Codec),
		}
		for _, attr := range md.Attributes {
			if attr.Key != "rtpmap" {
				continue
			}
			if pt, c, ok := parseRTPMap(attr.Value); ok {
				setup.Codecs[pt] = c
			}
		}
		endpoints[netip.AddrPortFrom(addr, uint16(md.MediaName.Port.Value))] = setup
	}
	return endpoints, nil
}

func connectionAddr(ci *sdp.ConnectionInformation) netip.Addr {
	if ci == nil || ci.Address == nil {
		return netip.Addr{}
	}
	addr, err := netip.ParseAddr(ci.Address.Address)
	if err != nil {
		return netip.Addr{}
	}
	return addr.Unmap()
}

// parseRTPMap parses "<pt> <encoding>/<clock rate>[/<channels>]".
func parseRTPMap(value string) (uint8, types.Codec, bool) {
	fields := strings.Fields(value)
	if len(fields) != 2 {
		return 0, types.Codec{}, false
	}
	pt, err := strconv.ParseUint(fields[0], 10, 7)
	if err != nil {
		return 0, types.Codec{}, false
	}
	parts := strings.Split(fields[1], "/")
	c := types.Codec{Name: parts[0]}
	if len(parts) > 1 {
		if rate, err := strconv.ParseUint(parts[1], 10, 32); err == nil {
			c.ClockRate = uint32(rate)
		}
	}
	return uint8(pt), c, true
}
