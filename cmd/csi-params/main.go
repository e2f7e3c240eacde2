// Command csi-params prints the base64 CSI parameter blob that nexutil
// expects, using the same flags as nexmon's makecsiparams.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/csi.report/internal/csi/chanspec"
	"github.com/banshee-data/csi.report/internal/router"
)

func main() {
	log.SetFlags(0)
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		log.Fatalf("csi-params: %v", err)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("csi-params", flag.ContinueOnError)
	chanSpec := fs.String("c", "36/80", "Chanspec as channel/bandwidth, e.g. 36/80")
	collect := fs.Int("e", 1, "Enable CSI collection (1) or disable it (0)")
	coreMask := fs.String("C", "0xf", "Receive core mask")
	nssMask := fs.String("N", "0x1", "Spatial stream mask")
	macs := fs.String("m", "", "Comma-separated source MAC addresses to filter on (at most 4)")
	firstByte := fs.String("b", "", "Only collect frames whose first payload byte matches, e.g. 0x88")
	delay := fs.Int("d", -1, "Delay in microseconds after each CSI operation (default: derived from the masks)")
	commands := fs.Bool("commands", false, "Print the router configuration commands instead of the blob")
	iface := fs.String("i", router.DefaultInterface, "Router interface for -commands")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cs, err := chanspec.ParseChanSpecArg(*chanSpec)
	if err != nil {
		return err
	}
	cores, err := chanspec.ParseMask(*coreMask)
	if err != nil {
		return err
	}
	nss, err := chanspec.ParseMask(*nssMask)
	if err != nil {
		return err
	}

	p := chanspec.Params{
		ChanSpec:       cs,
		CSICollect:     *collect != 0,
		Cores:          chanspec.Cores(cores),
		SpatialStreams: chanspec.SpatialStreams(nss),
	}
	if *delay >= 0 {
		if *delay > 0xffff {
			return fmt.Errorf("delay %d does not fit in 16 bits", *delay)
		}
		p.Delay = uint16(*delay)
	} else {
		p.Delay = uint16(chanspec.DefaultDelay(p.Cores, p.SpatialStreams) / time.Microsecond)
	}
	if *firstByte != "" {
		v, err := strconv.ParseUint(*firstByte, 0, 8)
		if err != nil {
			return fmt.Errorf("invalid first packet byte %q: %w", *firstByte, err)
		}
		b := uint8(v)
		p.FirstPktByte = &b
	}
	if *macs != "" {
		for _, s := range strings.Split(*macs, ",") {
			mac, err := net.ParseMAC(strings.TrimSpace(s))
			if err != nil {
				return fmt.Errorf("%q: %w", s, chanspec.ErrInvalidMAC)
			}
			p.MACAddrs = append(p.MACAddrs, mac)
		}
	}
	if err := p.Validate(); err != nil {
		return err
	}

	if *commands {
		for _, cmd := range router.ConfigureCommands(*iface, p, false) {
			fmt.Fprintln(out, cmd)
		}
		return nil
	}
	fmt.Fprintln(out, p.String())
	return nil
}
