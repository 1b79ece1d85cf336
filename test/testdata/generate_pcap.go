//go:build ignore

// This program generates a sample SIP/RTP pcap file for testing.
package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

const (
	callID     = "3848276298220188511@192.168.1.10"
	alicePort  = 49170
	bobPort    = 30000
	sipPort    = 5060
	ptime      = 20 * time.Millisecond
	dtmfPT     = 101
	samplesPer = 160
)

func main() {
	filename := "test/testdata/sample.pcap"
	if len(os.Args) > 1 {
		filename = os.Args[1]
	}

	f, err := os.Create(filename)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		panic(err)
	}

	aliceIP := net.ParseIP("192.168.1.10").To4()
	bobIP := net.ParseIP("192.168.1.20").To4()
	aliceMAC, _ := net.ParseMAC("00:11:22:33:44:55")
	bobMAC, _ := net.ParseMAC("66:77:88:99:aa:bb")
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	// Helper to write a UDP payload as an Ethernet/IP/UDP frame
	writePacket := func(srcIP, dstIP net.IP, srcMAC, dstMAC net.HardwareAddr, srcPort, dstPort uint16, data []byte, timestamp time.Time) {
		eth := &layers.Ethernet{
			SrcMAC:       srcMAC,
			DstMAC:       dstMAC,
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			TOS:      46 << 2,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    srcIP,
			DstIP:    dstIP,
		}
		udp := &layers.UDP{
			SrcPort: layers.UDPPort(srcPort),
			DstPort: layers.UDPPort(dstPort),
		}
		udp.SetNetworkLayerForChecksum(ip)

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(data)); err != nil {
			panic(fmt.Sprintf("failed to serialize: %v", err))
		}

		ci := gopacket.CaptureInfo{
			Timestamp:     timestamp,
			CaptureLength: len(buf.Bytes()),
			Length:        len(buf.Bytes()),
		}
		if err := w.WritePacket(ci, buf.Bytes()); err != nil {
			panic(fmt.Sprintf("failed to write packet: %v", err))
		}
	}

	rtpPacket := func(pt uint8, seq uint16, rtpTS, ssrc uint32, marker bool, payload []byte) []byte {
		p := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    pt,
				SequenceNumber: seq,
				Timestamp:      rtpTS,
				SSRC:           ssrc,
				Marker:         marker,
			},
			Payload: payload,
		}
		data, err := p.Marshal()
		if err != nil {
			panic(err)
		}
		return data
	}

	silence := make([]byte, samplesPer)
	for i := range silence {
		silence[i] = 0xff
	}

	// 1. INVITE with SDP offer from alice
	writePacket(aliceIP, bobIP, aliceMAC, bobMAC, sipPort, sipPort, sipMessage(
		"INVITE sip:bob@192.168.1.20 SIP/2.0",
		"z9hG4bK-1", "1 INVITE", sdp("192.168.1.10", alicePort)), ts)
	fmt.Println("Written: INVITE")

	// 2. 200 OK with SDP answer from bob
	ts = ts.Add(100 * time.Millisecond)
	writePacket(bobIP, aliceIP, bobMAC, aliceMAC, sipPort, sipPort, sipMessage(
		"SIP/2.0 200 OK",
		"z9hG4bK-1", "1 INVITE", sdp("192.168.1.20", bobPort)), ts)
	fmt.Println("Written: 200 OK")

	// 3. 50 packets each way, with a lost packet and a DTMF event from alice
	const aliceSSRC, bobSSRC = 0x11223344, 0x55667788
	for i := 0; i < 50; i++ {
		ts = ts.Add(ptime)
		seq := uint16(1000 + i)
		rtpTS := uint32(8000 + i*samplesPer)
		if i != 20 {
			if i >= 30 && i < 33 {
				event := []byte{5, 0x0a, 0x00, 0xa0}
				writePacket(aliceIP, bobIP, aliceMAC, bobMAC, alicePort, bobPort,
					rtpPacket(dtmfPT, seq, 8000+30*samplesPer, aliceSSRC, i == 30, event), ts)
			} else {
				writePacket(aliceIP, bobIP, aliceMAC, bobMAC, alicePort, bobPort,
					rtpPacket(0, seq, rtpTS, aliceSSRC, i == 0, silence), ts)
			}
		}
		writePacket(bobIP, aliceIP, bobMAC, aliceMAC, bobPort, alicePort,
			rtpPacket(0, uint16(500+i), rtpTS, bobSSRC, i == 0, silence), ts.Add(5*time.Millisecond))
	}
	fmt.Println("Written: 100 RTP packets")

	// 4. RTCP BYE from bob ends his stream
	ts = ts.Add(ptime)
	bye, err := rtcp.Marshal([]rtcp.Packet{
		&rtcp.ReceiverReport{SSRC: bobSSRC},
		&rtcp.Goodbye{Sources: []uint32{bobSSRC}},
	})
	if err != nil {
		panic(err)
	}
	writePacket(bobIP, aliceIP, bobMAC, aliceMAC, bobPort+1, alicePort+1, bye, ts)
	fmt.Println("Written: RTCP BYE")

	// 5. bob resumes with the same SSRC; a new stream record is expected
	for i := 0; i < 10; i++ {
		ts = ts.Add(ptime)
		writePacket(bobIP, aliceIP, bobMAC, aliceMAC, bobPort, alicePort,
			rtpPacket(0, uint16(2000+i), uint32(90000+i*samplesPer), bobSSRC, i == 0, silence), ts)
	}
	fmt.Println("Written: 10 RTP packets after BYE")

	// 6. BYE request
	ts = ts.Add(100 * time.Millisecond)
	writePacket(aliceIP, bobIP, aliceMAC, bobMAC, sipPort, sipPort, sipMessage(
		"BYE sip:bob@192.168.1.20 SIP/2.0", "z9hG4bK-2", "2 BYE", ""), ts)
	fmt.Println("Written: SIP BYE")

	fmt.Printf("\nGenerated %s\n", filename)
}

func sdp(addr string, port int) string {
	return fmt.Sprintf("v=0\r\n"+
		"o=- 2890844526 2890844526 IN IP4 %[1]s\r\n"+
		"s=-\r\n"+
		"c=IN IP4 %[1]s\r\n"+
		"t=0 0\r\n"+
		"m=audio %[2]d RTP/AVP 0 %[3]d\r\n"+
		"a=rtpmap:0 PCMU/8000\r\n"+
		"a=rtpmap:%[3]d telephone-event/8000\r\n", addr, port, dtmfPT)
}

func sipMessage(startLine, branch, cseq, body string) []byte {
	msg := startLine + "\r\n" +
		"Via: SIP/2.0/UDP 192.168.1.10:5060;branch=" + branch + "\r\n" +
		"From: <sip:alice@192.168.1.10>;tag=1928301774\r\n" +
		"To: <sip:bob@192.168.1.20>;tag=a6c85cf\r\n" +
		"Call-ID: " + callID + "\r\n" +
		"CSeq: " + cseq + "\r\n" +
		"Contact: <sip:alice@192.168.1.10>\r\n"
	if body != "" {
		msg += "Content-Type: application/sdp\r\n"
	}
	msg += fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body)
	return []byte(msg)
}
