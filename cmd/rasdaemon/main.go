// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/antimetal/rasdaemon/pkg/config"
	"github.com/antimetal/rasdaemon/pkg/core"
	"github.com/antimetal/rasdaemon/pkg/decoder/aer"
	"github.com/antimetal/rasdaemon/pkg/decoder/disk"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
)

var (
	storeDir      string
	broadcastAddr string
	maxClients    int
	cpuInfoPath   string
	disabledEvts  string
	develLog      bool
)

func init() {
	flag.StringVar(&storeDir, "store-dir", "/var/lib/rasdaemon",
		"Directory for the persistent event store (empty falls back to /var/lib/rasdaemon)")
	flag.StringVar(&broadcastAddr, "broadcast-addr", "@rasdaemon",
		"Unix socket address clients connect to for live event broadcast")
	flag.IntVar(&maxClients, "max-clients", 16,
		"Maximum number of simultaneous broadcast clients")
	flag.StringVar(&cpuInfoPath, "cpuinfo", "/proc/cpuinfo",
		"Path to read for CPU vendor/model detection")
	flag.StringVar(&disabledEvts, "disabled-events", "",
		"Comma-separated group:event pairs to leave disabled")
	flag.BoolVar(&develLog, "devel-log", false,
		"Use zap's development encoder instead of the production one")
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-test-decode" {
		runTestDecode()
		return
	}

	flag.Parse()
	log := newLogger()

	cfg, err := config.Load(config.ParseDisabledEvents(disabledEvts))
	if err != nil {
		log.Error(err, "failed to load configuration")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
	defer stop()

	c, err := core.New(ctx, core.Options{
		Logger:        log,
		Config:        cfg,
		StoreDir:      storeDir,
		BroadcastAddr: broadcastAddr,
		MaxClients:    maxClients,
		CPUInfoPath:   cpuInfoPath,
	})
	if err != nil {
		log.Error(err, "failed to initialize")
		os.Exit(1)
	}

	if err := c.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error(err, "daemon exited with error")
		os.Exit(1)
	}
}

func newLogger() logr.Logger {
	var zl *zap.Logger
	var err error
	if develLog {
		zl, err = zap.NewDevelopment()
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "rasdaemon: failed to build logger: %v\n", err)
		os.Exit(1)
	}
	return zapr.NewLogger(zl)
}

// runTestDecode feeds a synthetic, hand-built Input through one named
// decoder and prints the resulting record as JSON, for interactive
// smoke-testing
// of a decoder without a live kernel tracepoint.
func runTestDecode() {
	testFlags := flag.NewFlagSet("-test-decode", flag.ExitOnError)
	decoderName := testFlags.String("decoder", "aer", "Decoder to exercise: aer, disk")
	pretty := testFlags.Bool("pretty", true, "Pretty-print JSON output")
	testFlags.Parse(os.Args[2:])

	var rec any
	switch *decoderName {
	case "aer":
		rec = aer.Decode(aer.Input{
			DevName:        "0000:01:00.0",
			Severity:       aer.SeverityCorrected,
			Status:         0x1,
			TLPHeaderValid: true,
			TLPHeader:      [4]uint32{0xdeadbeef, 0, 0, 0},
		})
	case "disk":
		rec = disk.Decode(disk.Input{
			Dev:      0x0800,
			Sector:   1024,
			NrSector: 8,
			Error:    1,
			RWBS:     "R",
			Cmd:      "READ",
		})
	default:
		fmt.Fprintf(os.Stderr, "rasdaemon: unknown decoder %q (want aer, disk)\n", *decoderName)
		os.Exit(1)
	}

	var out []byte
	var err error
	if *pretty {
		out, err = json.MarshalIndent(rec, "", "  ")
	} else {
		out, err = json.Marshal(rec)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "rasdaemon: marshal failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
