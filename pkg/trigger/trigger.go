// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package trigger implements §4.K: spawning a user-configured external
// executable when an mc_event or memory_failure_event crosses its
// configured trigger condition, with event fields passed as environment
// variables and asynchronous reaping of the child.
package trigger

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/go-logr/logr"
)

// Fields is the stringified event data populated into the spawned
// trigger's environment, named exactly per §4.K.
type Fields struct {
	Timestamp    string
	Count        string
	Type         string
	Message      string
	Label        string
	MCIndex      string
	TopLayer     string
	MiddleLayer  string
	LowerLayer   string
	Address      string
	Grain        string
	Syndrome     string
	DriverDetail string
}

func (f Fields) env() []string {
	return []string{
		"TIMESTAMP=" + f.Timestamp,
		"COUNT=" + f.Count,
		"TYPE=" + f.Type,
		"MESSAGE=" + f.Message,
		"LABEL=" + f.Label,
		"MC_INDEX=" + f.MCIndex,
		"TOP_LAYER=" + f.TopLayer,
		"MIDDLE_LAYER=" + f.MiddleLayer,
		"LOWER_LAYER=" + f.LowerLayer,
		"ADDRESS=" + f.Address,
		"GRAIN=" + f.Grain,
		"SYNDROME=" + f.Syndrome,
		"DRIVER_DETAIL=" + f.DriverDetail,
	}
}

// Dispatcher holds one trigger executable path, validated accessible at
// construction time per §4.K's startup check.
type Dispatcher struct {
	log  logr.Logger
	path string
}

// New validates that path is accessible (stat succeeds) and returns a
// Dispatcher for it. An empty path means the trigger is unconfigured;
// New returns (nil, nil) in that case so callers can skip wiring it.
func New(path string, log logr.Logger) (*Dispatcher, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("trigger: %s not accessible: %w", path, err)
	}
	return &Dispatcher{log: log.WithName("trigger"), path: path}, nil
}

var reapWG sync.WaitGroup

// Fire spawns the trigger executable with the event's Fields bound into
// its environment. The child's stdio is inherited; reaping happens on a
// background goroutine so Fire never blocks the ingestion path.
func (d *Dispatcher) Fire(f Fields) {
	if d == nil {
		return
	}
	cmd := exec.Command(d.path)
	cmd.Env = append(os.Environ(), f.env()...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		d.log.Error(err, "failed to start trigger", "path", d.path)
		return
	}

	reapWG.Add(1)
	go func() {
		defer reapWG.Done()
		if err := cmd.Wait(); err != nil {
			d.log.Error(err, "trigger exited with error", "path", d.path)
		}
	}()
}

// Wait blocks until every in-flight trigger child has been reaped, for
// use during graceful shutdown and in tests.
func Wait() {
	reapWG.Wait()
}

// FieldsFromMcEvent builds Fields from a decoded memory-controller
// event's scalar fields, stringifying per §4.K.
func FieldsFromMcEvent(timestamp string, count int, eventType, message, label string, mcIndex int, topLayer, middleLayer, lowerLayer int8, address, grain, syndrome uint64, driverDetail string) Fields {
	return Fields{
		Timestamp:    timestamp,
		Count:        strconv.Itoa(count),
		Type:         eventType,
		Message:      message,
		Label:        label,
		MCIndex:      strconv.Itoa(mcIndex),
		TopLayer:     strconv.Itoa(int(topLayer)),
		MiddleLayer:  strconv.Itoa(int(middleLayer)),
		LowerLayer:   strconv.Itoa(int(lowerLayer)),
		Address:      fmt.Sprintf("0x%x", address),
		Grain:        fmt.Sprintf("0x%x", grain),
		Syndrome:     fmt.Sprintf("0x%x", syndrome),
		DriverDetail: driverDetail,
	}
}
