package filter

import (
	"fmt"
	"net/netip"
	"strings"

	"rtpstream-analyzer/pkg/types"
)

// DisplayFilter returns a filter expression matching any of ids. Clauses are
// rendered in the given order and joined with "||"; no deduplication.
func DisplayFilter(ids ...types.StreamID) string {
	clauses := make([]string, 0, len(ids))
	for _, id := range ids {
		clauses = append(clauses, clause(id))
	}
	return strings.Join(clauses, " || ")
}

func clause(id types.StreamID) string {
	proto := "ip"
	if id.IsIPv6() {
		proto = "ipv6"
	}
	return fmt.Sprintf("(%[1]s.src==%[2]s && udp.srcport==%[3]d && %[1]s.dst==%[4]s && udp.dstport==%[5]d && rtp.ssrc==0x%[6]x)",
		proto,
		literal(id.SrcAddr),
		id.SrcPort,
		literal(id.DstAddr),
		id.DstPort,
		id.SSRC,
	)
}

// literal encloses IPv6 addresses in brackets.
func literal(addr netip.Addr) string {
	if addr.Is6() && !addr.Is4In6() {
		return "[" + addr.String() + "]"
	}
	return addr.Unmap().String()
}
