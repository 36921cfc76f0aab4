package network

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// CaptureWriter writes feed datagrams as Ethernet/IPv4/UDP packets into a
// pcap stream, so recorded or synthetic feeds can be replayed with
// ReplayPCAP.
type CaptureWriter struct {
	w       *pcapgo.Writer
	src     *net.UDPAddr
	dst     *net.UDPAddr
	ipID    uint16
	written int
}

// NewCaptureWriter writes the pcap file header and returns a writer that
// addresses every datagram from src to dst.
func NewCaptureWriter(w io.Writer, src, dst *net.UDPAddr) (*CaptureWriter, error) {
	if src.IP.To4() == nil || dst.IP.To4() == nil {
		return nil, fmt.Errorf("capture writer needs IPv4 addresses, got %v -> %v", src, dst)
	}
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return nil, err
	}
	return &CaptureWriter{w: pw, src: src, dst: dst}, nil
}

// WriteDatagram appends one UDP datagram captured at ts.
func (c *CaptureWriter) WriteDatagram(ts time.Time, payload []byte) error {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	c.ipID++
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Id:       c.ipID,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    c.src.IP.To4(),
		DstIP:    c.dst.IP.To4(),
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(c.src.Port), DstPort: layers.UDPPort(c.dst.Port)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return fmt.Errorf("serialize datagram: %w", err)
	}
	pkt := buf.Bytes()
	if err := c.w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(pkt),
		Length:        len(pkt),
	}, pkt); err != nil {
		return err
	}
	c.written++
	return nil
}

// Written is the number of datagrams written.
func (c *CaptureWriter) Written() int { return c.written }
