// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package remediation

import (
	"fmt"
	"os"
	"time"

	"github.com/antimetal/rasdaemon/pkg/config"
	"github.com/go-logr/logr"
)

// cpuSample is one (count, time) observation in a CPU's rolling window.
type cpuSample struct {
	count uint64
	at    time.Time
}

// CPUEngine implements §4.J: recoverable ARM processor errors that
// indicate core failure accumulate per-CPU samples; crossing the
// threshold within the cycle window triggers the configured action.
type CPUEngine struct {
	cfg     config.EngineConfig
	log     logr.Logger
	clock   Clock
	samples map[int][]cpuSample
	isolate map[int]bool
}

func NewCPUEngine(cfg config.EngineConfig, log logr.Logger) *CPUEngine {
	return &CPUEngine{
		cfg:     cfg,
		log:     log.WithName("cpu-engine"),
		clock:   defaultClock,
		samples: make(map[int][]cpuSample),
		isolate: make(map[int]bool),
	}
}

// IsCoreFailure classifies an ARM PEI entry's flags byte per §4.J: bits
// {0,1,3} signal core failure when bit 2 is clear.
func IsCoreFailure(flags uint8) bool {
	if flags&(1<<2) != 0 {
		return false
	}
	return flags&((1<<0)|(1<<1)|(1<<3)) != 0
}

// Record accumulates a sample for cpu, with count = multipleError+1
// since the PEI multiple-error field counts additional errors beyond
// the first.
func (e *CPUEngine) Record(cpu int, multipleError uint16) {
	if e.cfg.Action == config.ActionOff {
		return
	}
	now := e.clock()
	e.samples[cpu] = append(e.samples[cpu], cpuSample{count: uint64(multipleError) + 1, at: now})
	e.evaluate(cpu, now)
}

func (e *CPUEngine) evaluate(cpu int, now time.Time) {
	var total uint64
	var kept []cpuSample
	for _, s := range e.samples[cpu] {
		if e.cfg.Cycle > 0 && uint64(now.Sub(s.at).Seconds()) > e.cfg.Cycle {
			continue
		}
		total += s.count
		kept = append(kept, s)
	}
	e.samples[cpu] = kept

	if total >= e.cfg.Threshold {
		e.isolateCPU(cpu)
	}
}

func (e *CPUEngine) isolateCPU(cpu int) {
	if e.isolate[cpu] {
		return
	}
	if e.cfg.Action == config.ActionAccount {
		e.log.Info("remediation: cpu threshold crossed, accounting only", "cpu", cpu)
		return
	}
	path := fmt.Sprintf("/sys/devices/system/cpu/cpu%d/online", cpu)
	if err := os.WriteFile(path, []byte("0\n"), 0); err != nil {
		e.log.Error(err, "remediation: cpu offline request failed", "cpu", cpu)
		return
	}
	e.isolate[cpu] = true
	e.log.Info("remediation: cpu offlined", "cpu", cpu)
}

// Isolated reports whether cpu has been taken offline by this engine.
func (e *CPUEngine) Isolated(cpu int) bool { return e.isolate[cpu] }

func (e *CPUEngine) SetClock(c Clock) { e.clock = c }
