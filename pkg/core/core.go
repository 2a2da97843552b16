// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package core assembles the daemon's components into one runnable
// unit: trace-facility discovery, event registration, per-CPU
// ingestion, the persistence façade, the remediation engines, trigger
// dispatch, and the broadcast server.
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/antimetal/rasdaemon/pkg/broadcast"
	"github.com/antimetal/rasdaemon/pkg/config"
	"github.com/antimetal/rasdaemon/pkg/cputype"
	"github.com/antimetal/rasdaemon/pkg/errors"
	"github.com/antimetal/rasdaemon/pkg/ingest"
	"github.com/antimetal/rasdaemon/pkg/remediation"
	"github.com/antimetal/rasdaemon/pkg/ringbuffer"
	"github.com/antimetal/rasdaemon/pkg/store"
	"github.com/antimetal/rasdaemon/pkg/trace"
	"github.com/antimetal/rasdaemon/pkg/trigger"
	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

// Options configures Core construction: a required logger plus
// overridable defaults for the store, broadcast socket, and CPU
// detection.
type Options struct {
	Logger         logr.Logger
	Config         config.Config
	StoreDir       string
	BroadcastAddr  string
	MaxClients     int
	CPUInfoPath    string
	RecentCapacity int
}

func (o *Options) applyDefaults() {
	if o.StoreDir == "" {
		o.StoreDir = "/var/lib/rasdaemon"
	}
	if o.BroadcastAddr == "" {
		o.BroadcastAddr = "@rasdaemon"
	}
	if o.MaxClients <= 0 {
		o.MaxClients = 16
	}
	if o.CPUInfoPath == "" {
		o.CPUInfoPath = "/proc/cpuinfo"
	}
	if o.RecentCapacity <= 0 {
		o.RecentCapacity = 256
	}
}

// recentEntry is one line kept in the in-memory diagnostic ring for
// introspection on shutdown or a future signal-triggered dump.
type recentEntry struct {
	At   time.Time
	Line string
}

// Core is the top-level daemon object.
type Core struct {
	log logr.Logger
	cfg config.Config

	facility *trace.Facility
	registry *trace.Registry
	ingestor *ingest.Ingestor

	store             *store.Facade
	broadcastServer   *broadcast.Server
	triggerDispatcher *trigger.Dispatcher

	pageEngine *remediation.PageEngine
	rowEngine  *remediation.RowEngine
	cpuEngine  *remediation.CPUEngine

	cpuInfo    cputype.Info
	cpuType    cputype.Type
	uptimeDiff time.Duration

	recent *ringbuffer.RingBuffer[recentEntry]
}

// New discovers the tracing facility, constructs every component, and
// registers the compiled-in event set. It does not start ingestion;
// call Run for that.
func New(ctx context.Context, opts Options) (*Core, error) {
	opts.applyDefaults()
	if opts.Logger.GetSink() == nil {
		return nil, fmt.Errorf("core: logger is required")
	}
	log := opts.Logger.WithName("core")

	facility, err := trace.Discover(ctx, log, "rasdaemon")
	if err != nil {
		return nil, err
	}

	cpuInfo, err := cputype.ParseCPUInfo(opts.CPUInfoPath)
	if err != nil {
		log.Error(err, "failed to parse cpuinfo, machine-check decode will be architectural-only")
	}
	cpuType, _ := cputype.Detect(cpuInfo)

	st := store.New(opts.StoreDir, log)
	if err := st.Open(-1); err != nil {
		return nil, fmt.Errorf("core: open store: %w", err)
	}

	off := remediation.NewSysfsOffliner()

	c := &Core{
		log:             log,
		cfg:             opts.Config,
		facility:        facility,
		registry:        trace.NewRegistry(facility, log),
		store:           st,
		broadcastServer: broadcast.New(opts.BroadcastAddr, opts.MaxClients, log),
		cpuInfo:         cpuInfo,
		cpuType:         cpuType,
		uptimeDiff:      facility.UptimeDiff,
		recent:          mustRingBuffer(opts.RecentCapacity),
	}

	if opts.Config.Page.Action != config.ActionOff {
		c.pageEngine = remediation.NewPageEngine(opts.Config.Page, off, log)
	}
	if opts.Config.Row.Action != config.ActionOff {
		c.rowEngine = remediation.NewRowEngine(opts.Config.Row, off, log)
	}
	if opts.Config.CPU.Action != config.ActionOff {
		c.cpuEngine = remediation.NewCPUEngine(opts.Config.CPU, log)
	}

	if opts.Config.MCCETrigger != "" {
		d, err := trigger.New(opts.Config.MCCETrigger, log)
		if err != nil {
			log.Error(err, "MC_CE_TRIGGER not wired")
		} else {
			c.triggerDispatcher = d
		}
	}
	if c.triggerDispatcher == nil && opts.Config.MCUETrigger != "" {
		d, err := trigger.New(opts.Config.MCUETrigger, log)
		if err != nil {
			log.Error(err, "MC_UE_TRIGGER not wired")
		} else {
			c.triggerDispatcher = d
		}
	}

	c.registerEvents(ctx)
	if c.registry.EnabledCount() == 0 {
		st.Close(-1)
		return nil, errors.ErrNoEventsAvailable
	}

	c.ingestor = ingest.New(facility, c.registry, st, log)

	return c, nil
}

func mustRingBuffer(capacity int) *ringbuffer.RingBuffer[recentEntry] {
	rb, err := ringbuffer.New[recentEntry](capacity)
	if err != nil {
		rb, _ = ringbuffer.New[recentEntry](1)
	}
	return rb
}

// Run starts the broadcast server and the ingestion pipeline,
// supervising both under one errgroup so a fatal error in either tears
// down the other via cancellation.
func (c *Core) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.broadcastServer.Start(ctx)
	})
	g.Go(func() error {
		return c.ingestor.Run(ctx)
	})

	err := g.Wait()
	trigger.Wait()
	c.store.Close(-1)
	return err
}

// NoteRecent records a diagnostic line in the bounded in-memory history,
// for a future signal-triggered dump; not wired to any signal handler
// yet since no caller needs it.
func (c *Core) NoteRecent(line string) {
	c.recent.Push(recentEntry{At: time.Now(), Line: line})
}

// RecentLines returns the most recent diagnostic lines, oldest first.
func (c *Core) RecentLines() []recentEntry {
	return c.recent.GetAll()
}
