// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package ingest

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/antimetal/rasdaemon/pkg/trace"
	"github.com/cilium/ebpf/rlimit"
	"github.com/go-logr/logr"
)

const onlineCPUsPath = "/sys/devices/system/cpu/online"

// Ingestor wires trace-facility discovery and event registration to the
// per-CPU ingestion loop, owning mode selection and the termination
// signal set named in §4.F: {INT, TERM, HUP, QUIT}.
type Ingestor struct {
	log      logr.Logger
	facility *trace.Facility
	registry *trace.Registry
	session  PersistenceSession
}

func New(facility *trace.Facility, registry *trace.Registry, session PersistenceSession, log logr.Logger) *Ingestor {
	return &Ingestor{
		log:      log.WithName("ingest"),
		facility: facility,
		registry: registry,
		session:  session,
	}
}

// Run blocks until ctx is canceled or a termination signal arrives. It
// opens the preferred readiness-multiplexer mode first, falling back to
// one cooperative task per CPU if the kernel proves to be a legacy build
// (§4.E).
func (in *Ingestor) Run(ctx context.Context) error {
	// Raw trace-pipe descriptors are regular files, not eBPF maps, but
	// relaxing the memlock limit here matches the domain convention of
	// doing so before any descriptor that the kernel may account against
	// RLIMIT_MEMLOCK is opened.
	if err := rlimit.RemoveMemlock(); err != nil {
		in.log.Error(err, "failed to remove memlock rlimit, continuing anyway")
	}

	cpus, err := OnlineCPUs(onlineCPUsPath)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	disableBufferPercent(in.facility.Dir, in.log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
	defer signal.Stop(sigCh)

	sigR, sigW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("ingest: create signal pipe: %w", err)
	}
	defer sigR.Close()
	defer sigW.Close()

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}
		sigW.Write([]byte{1})
	}()

	sources, err := openCPUSources(in.facility.Dir, cpus)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	fallbackNeeded, err := runPreferred(sources, int(sigR.Fd()), in.dispatch, in.log)
	closeCPUSources(sources)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if !fallbackNeeded {
		return nil
	}

	return runFallback(ctx, in.facility.Dir, cpus, in.session, in.dispatch, in.log)
}

// dispatch resolves a raw record's common_type field back to its
// registered (group, name) and hands it to the registry, which applies
// the event's filter and calls its handler.
func (in *Ingestor) dispatch(cpu int, evt RawEvent) {
	if len(evt.Payload) < 2 {
		return
	}
	id := int(binary.LittleEndian.Uint16(evt.Payload[0:2]))
	group, name, ok := in.registry.LookupByID(id)
	if !ok {
		return
	}
	in.registry.Dispatch(group, name, trace.Event{Raw: evt.Payload, CPU: cpu, Timestamp: evt.Timestamp})
}
