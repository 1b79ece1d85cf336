package filter

import (
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"rtpstream-analyzer/pkg/types"
)

func v4ID() types.StreamID {
	return types.StreamID{
		SrcAddr: netip.MustParseAddr("192.168.1.10"),
		SrcPort: 10000,
		DstAddr: netip.MustParseAddr("192.168.1.20"),
		DstPort: 20000,
		SSRC:    0xdeadbeef,
	}
}

func v6ID() types.StreamID {
	return types.StreamID{
		SrcAddr: netip.MustParseAddr("2001:db8::1"),
		SrcPort: 30000,
		DstAddr: netip.MustParseAddr("2001:db8::2"),
		DstPort: 30002,
		SSRC:    0x1,
	}
}

func TestDisplayFilter_Empty(t *testing.T) {
	assert.Equal(t, "", DisplayFilter())
}

func TestDisplayFilter_IPv4(t *testing.T) {
	assert.Equal(t,
		"(ip.src==192.168.1.10 && udp.srcport==10000 && ip.dst==192.168.1.20 && udp.dstport==20000 && rtp.ssrc==0xdeadbeef)",
		DisplayFilter(v4ID()))
}

func TestDisplayFilter_IPv6Bracketed(t *testing.T) {
	assert.Equal(t,
		"(ipv6.src==[2001:db8::1] && udp.srcport==30000 && ipv6.dst==[2001:db8::2] && udp.dstport==30002 && rtp.ssrc==0x1)",
		DisplayFilter(v6ID()))
}

func TestDisplayFilter_OrderPreservedNoDedup(t *testing.T) {
	f := DisplayFilter(v6ID(), v4ID(), v6ID())
	clauses := strings.Split(f, " || ")
	assert.Len(t, clauses, 3)
	assert.True(t, strings.HasPrefix(clauses[0], "(ipv6.src==[2001:db8::1]"))
	assert.True(t, strings.HasPrefix(clauses[1], "(ip.src==192.168.1.10"))
	assert.Equal(t, clauses[0], clauses[2])
	assert.NotContains(t, clauses[1], "[")
}
