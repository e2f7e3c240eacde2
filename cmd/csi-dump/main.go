// Command csi-dump decodes CSI snapshots from pcap captures and prints
// them with their estimates, optionally plotting or importing them.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/banshee-data/csi.report/internal/csi/estimate"
	"github.com/banshee-data/csi.report/internal/csi/grouper"
	"github.com/banshee-data/csi.report/internal/csi/network"
	"github.com/banshee-data/csi.report/internal/csi/plot"
	"github.com/banshee-data/csi.report/internal/db"
	"github.com/banshee-data/csi.report/internal/monitoring"
)

var (
	port            = flag.Int("port", network.DefaultCSIPort, "CSI UDP port (0 accepts any port)")
	antennaDistance = flag.Float64("antenna-distance", 0, "Antenna spacing in metres (default: half the center wavelength)")
	jsonOutput      = flag.Bool("json", false, "Print one JSON summary per line")
	plotDir         = flag.String("plot", "", "Write PNG plots into this directory")
	plotEvery       = flag.Int("plot-every", 0, "Plot every Nth snapshot (0 plots only the last)")
	dbPath          = flag.String("db", "", "Import snapshots and estimates into this SQLite database")
	realtime        = flag.Bool("realtime", false, "Replay at capture speed")
	speed           = flag.Float64("speed", 1.0, "Replay speed multiplier with -realtime")
	quiet           = flag.Bool("quiet", false, "Only print the totals")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: csi-dump [flags] capture.pcap [capture.pcap ...]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if *quiet || *jsonOutput {
		monitoring.SetLogger(nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store *db.DB
	if *dbPath != "" {
		var err error
		store, err = db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer store.Close()
	}

	for _, path := range flag.Args() {
		if err := dumpFile(ctx, path, store, os.Stdout); err != nil {
			log.Fatalf("%s: %v", path, err)
		}
	}
}

type dumper struct {
	out       io.Writer
	store     *db.DB
	sessionID string
	summaries []*estimate.Summary
	last      *grouper.WifiCsi
	count     int
}

func dumpFile(ctx context.Context, path string, store *db.DB, out io.Writer) error {
	d := &dumper{out: out, store: store}
	if store != nil {
		sess, err := store.StartSession("file:"+path, "")
		if err != nil {
			return err
		}
		d.sessionID = sess.ID
		defer store.EndSession(sess.ID)
	}

	stats := network.NewPacketStats("file", nil)
	cfg := network.PipelineConfig{
		UDPPort:         *port,
		Realtime:        *realtime,
		SpeedMultiplier: *speed,
		Stats:           stats,
	}
	start := time.Now()
	if err := network.FileSource(path).Run(ctx, cfg, d.handle); err != nil {
		return err
	}

	if *plotDir != "" {
		if err := d.writePlots(); err != nil {
			return err
		}
	}

	t := stats.Totals()
	fmt.Fprintf(out, "%s: %s packets (%s), %s frames, %s decode errors, %s snapshots in %v\n",
		path,
		humanize.Comma(t.Packets), humanize.Bytes(uint64(t.Bytes)),
		humanize.Comma(t.Frames), humanize.Comma(t.DecodeErrors),
		humanize.Comma(t.Snapshots), time.Since(start).Round(time.Millisecond))
	return nil
}

func (d *dumper) distance(w *grouper.WifiCsi) float64 {
	if *antennaDistance > 0 {
		return *antennaDistance
	}
	return estimate.SpeedOfLight / (w.ChanSpec.CenterFrequencyMHz() * 1e6) / 2
}

func (d *dumper) handle(w *grouper.WifiCsi) error {
	d.count++
	d.last = w
	sum := estimate.Summarize(w, d.distance(w), time.Now())
	d.summaries = append(d.summaries, sum)

	if d.store != nil {
		id, err := d.store.InsertSnapshot(d.sessionID, sum.Time, w, true)
		if err != nil {
			return err
		}
		if err := d.store.InsertEstimates(id, sum); err != nil {
			return err
		}
	}

	if *plotDir != "" && *plotEvery > 0 && d.count%*plotEvery == 0 {
		if _, err := plot.Snapshot(w, *plotDir); err != nil && !errors.Is(err, plot.ErrNoData) {
			return err
		}
	}

	switch {
	case *quiet:
	case *jsonOutput:
		return json.NewEncoder(d.out).Encode(sum)
	default:
		fmt.Fprintln(d.out, formatSummary(w, sum))
	}
	return nil
}

func (d *dumper) writePlots() error {
	if d.last != nil && *plotEvery == 0 {
		if _, err := plot.Snapshot(d.last, *plotDir); err != nil && !errors.Is(err, plot.ErrNoData) {
			return err
		}
	}
	if _, err := plot.Series(d.summaries, *plotDir); err != nil && !errors.Is(err, plot.ErrNoData) {
		return err
	}
	log.Printf("plots written to %s", *plotDir)
	return nil
}

func formatSummary(w *grouper.WifiCsi, sum *estimate.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "seq=%5d chanspec=%s rssi=%d slots=%d mask=%#04x",
		w.SeqCnt, w.ChanSpec, w.RSSI, w.Populated(), w.Mask())
	for _, a := range sum.AoA {
		fmt.Fprintf(&b, " aoa[%s]=%.1f°", a.Pair, a.Radians*180/math.Pi)
	}
	for _, t := range sum.ToF {
		fmt.Fprintf(&b, " tof[%d]=%v", t.Core, t.Delay)
	}
	return b.String()
}
