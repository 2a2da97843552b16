// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package trace implements trace-facility discovery and event
// registration (§4.C/4.D): locating the kernel's debugfs/tracefs
// tracing directory, creating a per-tool instance, and parsing the
// per-event format descriptors that downstream ingestion binds against.
package trace

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/antimetal/rasdaemon/pkg/errors"
	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"
)

// Facility is the discovered tracing directory and clock-source state
// produced by §4.C.
type Facility struct {
	log logr.Logger

	// Dir is the working tracing directory: the per-tool instance if one
	// could be created, otherwise <debugfs>/tracing directly.
	Dir string

	// Monotonic reports whether trace_clock was switched to "uptime".
	Monotonic bool

	// UptimeDiff is now - /proc/uptime's boot-relative uptime, sampled at
	// discovery time, used to translate ring-buffer timestamps to
	// wall-clock time when Monotonic is set.
	UptimeDiff time.Duration

	// HeaderPage is the raw contents of events/header_page, describing
	// the kernel's per-CPU subbuffer header layout.
	HeaderPage []byte
}

const toolInstanceMode = 0700

// Discover performs §4.C: it scans the mount table for debugfs, creates
// a per-tool trace instance, selects the uptime clock, and reads the
// subbuffer header layout. The mount-table scan is retried with bounded
// backoff since it can race a concurrent mount during early boot.
func Discover(ctx context.Context, log logr.Logger, tool string) (*Facility, error) {
	log = log.WithName("trace")

	debugfsDir, err := backoff.Retry(ctx, func() (string, error) {
		return findMount("debugfs")
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(5))
	if err != nil {
		return nil, fmt.Errorf("%w: no debugfs mount found: %v", errors.ErrTracingUnavailable, err)
	}

	tracingDir := filepath.Join(debugfsDir, "tracing")
	workDir := tracingDir
	instancesDir := filepath.Join(tracingDir, "instances")
	if st, statErr := os.Stat(instancesDir); statErr == nil && st.IsDir() {
		instDir := filepath.Join(instancesDir, tool)
		if mkErr := os.MkdirAll(instDir, toolInstanceMode); mkErr != nil {
			log.Error(mkErr, "failed to create trace instance, using base tracing directory", "instance", instDir)
		} else {
			workDir = instDir
		}
	}

	f := &Facility{log: log, Dir: workDir}

	if err := f.selectClock(); err != nil {
		log.Error(err, "failed to select uptime trace clock, timestamps will use the default clock")
	}

	headerPage, err := os.ReadFile(filepath.Join(workDir, "events", "header_page"))
	if err != nil {
		log.Error(err, "failed to read events/header_page")
	} else {
		f.HeaderPage = headerPage
	}

	return f, nil
}

// selectClock implements §4.C step 3: if trace_clock offers "uptime",
// select it and record the offset needed to translate ring-buffer
// timestamps (which are then boot-relative) back to wall-clock time.
func (f *Facility) selectClock() error {
	path := filepath.Join(f.Dir, "trace_clock")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read trace_clock: %w", err)
	}
	if !strings.Contains(string(data), "uptime") {
		return nil
	}

	now := time.Now()
	uptime, err := readProcUptime()
	if err != nil {
		return fmt.Errorf("read /proc/uptime: %w", err)
	}

	if err := os.WriteFile(path, []byte("uptime"), 0); err != nil {
		return fmt.Errorf("select uptime trace clock: %w", err)
	}

	f.Monotonic = true
	f.UptimeDiff = now.Sub(time.Unix(0, 0).Add(uptime))
	return nil
}

func readProcUptime() (time.Duration, error) {
	data, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty /proc/uptime")
	}
	secs, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("parse /proc/uptime: %w", err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// findMount scans /proc/mounts for the first entry whose filesystem type
// matches fsType, returning its mount point directory.
func findMount(fsType string) (string, error) {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return "", fmt.Errorf("open /proc/mounts: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		if fields[2] == fsType {
			return fields[1], nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan /proc/mounts: %w", err)
	}
	return "", fmt.Errorf("no %s mount found", fsType)
}
