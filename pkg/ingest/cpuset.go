// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package ingest implements per-CPU trace-pipe ingestion and the
// daemon's signal-driven lifecycle (§4.E/4.F): a preferred
// readiness-multiplexer mode backed by poll(2), falling back to one
// cooperative polling task per CPU on kernels where poll() does not
// gate on raw trace-pipe data.
package ingest

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// OnlineCPUs parses the kernel's CPU range list format (e.g. "0-3,5,7-8")
// as found in /sys/devices/system/cpu/online.
func OnlineCPUs(path string) ([]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: read %s: %w", path, err)
	}
	return parseCPURange(strings.TrimSpace(string(data)))
}

func parseCPURange(s string) ([]int, error) {
	if s == "" {
		return nil, fmt.Errorf("ingest: empty cpu range")
	}
	var cpus []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if dash := strings.IndexByte(part, '-'); dash >= 0 {
			lo, err := strconv.Atoi(part[:dash])
			if err != nil {
				return nil, fmt.Errorf("ingest: bad cpu range %q: %w", part, err)
			}
			hi, err := strconv.Atoi(part[dash+1:])
			if err != nil {
				return nil, fmt.Errorf("ingest: bad cpu range %q: %w", part, err)
			}
			for c := lo; c <= hi; c++ {
				cpus = append(cpus, c)
			}
			continue
		}
		c, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("ingest: bad cpu entry %q: %w", part, err)
		}
		cpus = append(cpus, c)
	}
	if len(cpus) == 0 {
		return nil, fmt.Errorf("ingest: no cpus parsed from %q", s)
	}
	return cpus, nil
}
