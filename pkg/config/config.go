// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package config loads the remediation engines' static-after-init
// configuration from environment variables: the page/row/cpu
// remediation action/threshold/cycle knobs and the trigger paths this
// daemon runs on a corrected or uncorrected memory-controller event.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Action is a remediation action for the page or row engine.
type Action int

const (
	ActionOff Action = iota
	ActionAccount
	ActionSoft
	ActionHard
	ActionSoftThenHard
)

func (a Action) String() string {
	switch a {
	case ActionOff:
		return "off"
	case ActionAccount:
		return "account"
	case ActionSoft:
		return "soft"
	case ActionHard:
		return "hard"
	case ActionSoftThenHard:
		return "soft_then_hard"
	default:
		return "unknown"
	}
}

func parseAction(s string) (Action, error) {
	switch s {
	case "", "off":
		return ActionOff, nil
	case "account":
		return ActionAccount, nil
	case "soft":
		return ActionSoft, nil
	case "hard":
		return ActionHard, nil
	case "soft_then_hard":
		return ActionSoftThenHard, nil
	default:
		return ActionOff, fmt.Errorf("config: unrecognized action %q", s)
	}
}

// EngineConfig is one engine's (page, row, or cpu) escalation policy.
type EngineConfig struct {
	Action    Action
	Threshold uint64
	Cycle     uint64 // seconds
}

// Config is the full set of knobs consumed by the remediation engines and
// trigger dispatch, assembled from environment variables at process start.
type Config struct {
	Page EngineConfig
	Row  EngineConfig
	CPU  EngineConfig

	MCCETrigger string
	MCUETrigger string

	DisabledEvents []string // "group:event" pairs kept disabled at registration
}

const (
	defaultPageThreshold = 50
	defaultPageCycle     = 24 * 3600
	defaultRowThreshold  = 50
	defaultRowCycle      = 24 * 3600
	defaultCPUThreshold  = 50
	defaultCPUCycle      = 24 * 3600
)

// Load reads Config from the process environment. Disabled events are
// supplied by the caller (the hosting program's CLI flags or config file)
// rather than read from the environment directly, since no single env var
// is reserved for it.
func Load(disabledEvents []string) (Config, error) {
	var cfg Config
	var err error

	cfg.Page, err = loadEngine("PAGE_CE_ACTION", "PAGE_CE_THRESHOLD", "PAGE_CE_REFRESH_CYCLE",
		defaultPageThreshold, defaultPageCycle)
	if err != nil {
		return Config{}, err
	}
	cfg.Row, err = loadEngine("ROW_CE_ACTION", "ROW_CE_THRESHOLD", "ROW_CE_REFRESH_CYCLE",
		defaultRowThreshold, defaultRowCycle)
	if err != nil {
		return Config{}, err
	}
	cfg.CPU, err = loadEngine("CPU_CE_ACTION", "CPU_CE_THRESHOLD", "CPU_CE_REFRESH_CYCLE",
		defaultCPUThreshold, defaultCPUCycle)
	if err != nil {
		return Config{}, err
	}

	// Row-action escalation takes precedence: a live row engine forces the
	// page engine off regardless of what PAGE_CE_ACTION requested.
	if cfg.Row.Action != ActionOff {
		cfg.Page.Action = ActionOff
	}

	cfg.MCCETrigger = os.Getenv("MC_CE_TRIGGER")
	cfg.MCUETrigger = os.Getenv("MC_UE_TRIGGER")
	cfg.DisabledEvents = disabledEvents

	return cfg, nil
}

func loadEngine(actionVar, thresholdVar, cycleVar string, defaultThreshold, defaultCycle uint64) (EngineConfig, error) {
	action, err := parseAction(os.Getenv(actionVar))
	if err != nil {
		return EngineConfig{}, err
	}

	threshold := defaultThreshold
	if v := os.Getenv(thresholdVar); v != "" {
		threshold, err = parseCountSuffix(v)
		if err != nil {
			return EngineConfig{}, fmt.Errorf("config: %s: %w", thresholdVar, err)
		}
	}

	cycle := defaultCycle
	if v := os.Getenv(cycleVar); v != "" {
		cycle, err = parseCycleSuffix(v)
		if err != nil {
			return EngineConfig{}, fmt.Errorf("config: %s: %w", cycleVar, err)
		}
	}

	return EngineConfig{Action: action, Threshold: threshold, Cycle: cycle}, nil
}

// parseCountSuffix parses an integer with an optional k (x1000) or m
// (x1,000,000) suffix, clamping to math.MaxUint64 on overflow rather than
// wrapping.
func parseCountSuffix(s string) (uint64, error) {
	return parseSuffixed(s, map[byte]uint64{'k': 1000, 'm': 1000 * 1000})
}

// parseCycleSuffix parses an integer with an optional s (x1), m (x60), h
// (x3600), or d (x86400) suffix denoting a window duration in seconds.
func parseCycleSuffix(s string) (uint64, error) {
	return parseSuffixed(s, map[byte]uint64{'s': 1, 'm': 60, 'h': 3600, 'd': 86400})
}

func parseSuffixed(s string, units map[byte]uint64) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}

	last := s[len(s)-1]
	numPart := s
	multiplier := uint64(1)
	if unit, ok := units[last]; ok {
		multiplier = unit
		numPart = s[:len(s)-1]
	} else if last < '0' || last > '9' {
		return 0, fmt.Errorf("unrecognized unit suffix in %q", s)
	}

	base, err := strconv.ParseUint(strings.TrimSpace(numPart), 10, 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			// The digits alone exceed uint64: clamp like a multiply overflow.
			return ^uint64(0), nil
		}
		return 0, fmt.Errorf("invalid numeric value in %q: %w", s, err)
	}

	result := base * multiplier
	if multiplier != 0 && result/multiplier != base {
		// Overflow: clamp to the largest representable value rather than
		// silently wrap.
		return ^uint64(0), nil
	}
	return result, nil
}

// ParseDisabledEvents splits a newline- or comma-separated list of
// "group:event" names as supplied via the disable-list source named in
// the external interfaces table.
func ParseDisabledEvents(raw string) []string {
	raw = strings.ReplaceAll(raw, ",", "\n")
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
