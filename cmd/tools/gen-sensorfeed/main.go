// Command gen-sensorfeed sends a synthetic surround-view sensor feed over UDP,
// or writes it to a pcap file for replay.
package main

import (
	"flag"
	"log"
	"net"
	"os"
	"time"

	"github.com/banshee-data/surroundview/internal/svm/l1packets"
	"github.com/banshee-data/surroundview/internal/svm/network"
	"github.com/banshee-data/surroundview/internal/svm/synthetic"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:5600", "destination UDP address")
	output := flag.String("o", "", "write a pcap file instead of sending")
	frames := flag.Int("n", 300, "number of frames (0 = forever when sending)")
	rate := flag.Float64("rate", 30, "frames per second")
	size := flag.Int("size", 64, "camera image width and height in pixels")
	seed := flag.Int64("seed", 1, "random seed for LIDAR jitter")
	maxDatagram := flag.Int("max-datagram", 1400, "maximum datagram size in bytes")
	metaEvery := flag.Int("meta-every", 0, "resend metadata every N frames (0 = only first)")
	flag.Parse()

	if *rate <= 0 {
		log.Fatal("rate must be positive")
	}
	spec := synthetic.DefaultRigSpec()
	spec.Width, spec.Height = *size, *size
	gen := synthetic.NewGenerator(spec, *seed)
	enc := l1packets.NewEncoder(*maxDatagram)
	interval := time.Duration(float64(time.Second) / *rate)

	dst, err := net.ResolveUDPAddr("udp4", *addr)
	if err != nil {
		log.Fatalf("resolve %s: %v", *addr, err)
	}

	var send func(ts time.Time, d []byte) error
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			log.Fatalf("create %s: %v", *output, err)
		}
		defer f.Close()
		cw, err := network.NewCaptureWriter(f, &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 40000}, dst)
		if err != nil {
			log.Fatal(err)
		}
		send = cw.WriteDatagram
		if *frames == 0 {
			log.Fatal("-n 0 is only valid when sending")
		}
	} else {
		conn, err := net.DialUDP("udp4", nil, dst)
		if err != nil {
			log.Fatalf("dial %s: %v", dst, err)
		}
		defer conn.Close()
		send = func(_ time.Time, d []byte) error {
			_, err := conn.Write(d)
			return err
		}
	}

	ts := time.Now()
	for i := 0; *frames == 0 || i < *frames; i++ {
		withMeta := i == 0 || (*metaEvery > 0 && i%*metaEvery == 0)
		var datagrams [][]byte
		if withMeta {
			md, err := enc.Metadata(gen.Meta)
			if err != nil {
				log.Fatalf("encode metadata: %v", err)
			}
			datagrams = append(datagrams, md...)
		}
		fd, err := enc.Frame(gen.Next(false))
		if err != nil {
			log.Fatalf("encode frame %d: %v", i, err)
		}
		datagrams = append(datagrams, fd...)

		for _, d := range datagrams {
			if err := send(ts, d); err != nil {
				log.Fatalf("send frame %d: %v", i, err)
			}
		}
		if *output == "" {
			time.Sleep(interval)
		}
		ts = ts.Add(interval)
		if (i+1)%100 == 0 {
			log.Printf("%d frames", i+1)
		}
	}
	if *output != "" {
		log.Printf("Created: %s", *output)
	}
}
