// Command pcap-analyse summarises a captured surround-view sensor feed:
// datagram and message counts, reassembly health, sequence gaps and the
// metadata carried by the capture.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/banshee-data/surroundview/internal/monitoring"
	"github.com/banshee-data/surroundview/internal/svm/l1packets"
	"github.com/banshee-data/surroundview/internal/svm/l2frames"
	"github.com/banshee-data/surroundview/internal/svm/network"
)

// AnalysisResult is the JSON report.
type AnalysisResult struct {
	PCAPFile       string                    `json:"pcap_file"`
	Packets        int                       `json:"packets"`
	Datagrams      int                       `json:"datagrams"`
	BadDatagrams   uint64                    `json:"bad_datagrams"`
	ChunksByKind   map[string]int            `json:"chunks_by_kind"`
	MetadataMsgs   uint64                    `json:"metadata_messages"`
	Frames         uint64                    `json:"frames"`
	FramesNoMeta   int                       `json:"frames_before_metadata"`
	SeqGaps        int                       `json:"seq_gaps"`
	Reassembly     l1packets.ReassemblyStats `json:"reassembly"`
	FirstSeq       uint32                    `json:"first_seq"`
	LastSeq        uint32                    `json:"last_seq"`
	MeanPoints     float64                   `json:"mean_points_per_frame"`
	Metadata       *l2frames.Metadata        `json:"metadata,omitempty"`
	ProcessingTime time.Duration             `json:"processing_time_ns"`
}

func main() {
	pcapFile := flag.String("pcap", "", "capture to analyse (required)")
	port := flag.Int("port", 5600, "destination UDP port of the feed (0 = all UDP)")
	window := flag.Int("window", 8, "reassembly window")
	asJSON := flag.Bool("json", false, "print the report as JSON")
	flag.Parse()

	if *pcapFile == "" {
		flag.Usage()
		os.Exit(2)
	}
	monitoring.SetLogger(nil)

	res, err := analyse(*pcapFile, *port, *window)
	if err != nil {
		log.Fatal(err)
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			log.Fatal(err)
		}
		return
	}
	printReport(res)
}

func analyse(path string, port, window int) (*AnalysisResult, error) {
	reader, err := network.OpenPCAP(path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	start := time.Now()
	res := &AnalysisResult{PCAPFile: path, ChunksByKind: map[string]int{}}
	dec := l1packets.NewDecoder(window)
	var (
		haveSeq bool
		points  int
	)

	replay, err := network.ReplayPCAP(context.Background(), reader, network.ReplayConfig{UDPPort: port},
		func(_ context.Context, datagram []byte) error {
			h, _, err := l1packets.ParseHeader(datagram)
			if err == nil {
				res.ChunksByKind[h.Kind.String()]++
				if h.ChunkIndex == 0 {
					if haveSeq && h.Seq > res.LastSeq+1 {
						res.SeqGaps++
					}
					if !haveSeq {
						res.FirstSeq = h.Seq
						haveSeq = true
					}
					if h.Seq > res.LastSeq {
						res.LastSeq = h.Seq
					}
				}
			}
			f, err := dec.Feed(datagram)
			if err != nil || f == nil {
				return nil
			}
			if f.Metadata == nil {
				res.FramesNoMeta++
			}
			points += len(f.Points)
			return nil
		})
	if err != nil {
		return nil, err
	}

	st := dec.Stats()
	res.Packets = replay.Packets
	res.Datagrams = replay.Datagrams
	res.BadDatagrams = st.BadDatagrams
	res.MetadataMsgs = st.MetadataMsgs
	res.Frames = st.Frames
	res.Reassembly = st.Reassembly
	res.Metadata = dec.Metadata()
	if st.Frames > 0 {
		res.MeanPoints = float64(points) / float64(st.Frames)
	}
	res.ProcessingTime = time.Since(start)
	return res, nil
}

func printReport(r *AnalysisResult) {
	fmt.Printf("Capture:     %s\n", r.PCAPFile)
	fmt.Printf("Packets:     %d (%d feed datagrams, %d malformed)\n", r.Packets, r.Datagrams, r.BadDatagrams)
	for kind, n := range r.ChunksByKind {
		fmt.Printf("  %-10s %d chunks\n", kind, n)
	}
	fmt.Printf("Messages:    %d metadata, %d frames (%d before metadata)\n", r.MetadataMsgs, r.Frames, r.FramesNoMeta)
	fmt.Printf("Sequence:    %d..%d, %d gaps\n", r.FirstSeq, r.LastSeq, r.SeqGaps)
	fmt.Printf("Reassembly:  %d completed, %d evicted, %d duplicate, %d conflicting\n",
		r.Reassembly.Completed, r.Reassembly.Evicted, r.Reassembly.Duplicates, r.Reassembly.Conflicts)
	fmt.Printf("Points:      %.1f per frame\n", r.MeanPoints)
	if m := r.Metadata; m != nil {
		fmt.Printf("Metadata:    %dx%d images, fov %.1f deg, %d lidars x %d channels x %d\n",
			m.ImageWidth, m.ImageHeight, m.HorizontalFOVDeg, m.NumLidars, m.LidarChannels, m.LidarResolution)
		for _, mount := range m.Mounts {
			fmt.Printf("  %-6s offset (%.0f, %.0f, %.0f) yaw %.1f pitch %.1f\n", mount.Index,
				mount.Offset.X, mount.Offset.Y, mount.Offset.Z, mount.YawDeg, mount.PitchDeg)
		}
	}
	fmt.Printf("Processed in %s\n", r.ProcessingTime.Round(time.Millisecond))
}
