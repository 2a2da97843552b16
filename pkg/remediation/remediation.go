// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package remediation implements the page, row, and CPU escalation
// engines (§4.H/4.I/4.J): bookkeeping state machines that track
// corrected-error counts within a rolling window and, on threshold
// crossing, hand off to an Offliner to ask the kernel to take the
// affected resource out of service.
package remediation

import (
	"fmt"
	"os"
	"time"

	"github.com/antimetal/rasdaemon/pkg/config"
	"github.com/antimetal/rasdaemon/pkg/errors"
	"github.com/go-logr/logr"
)

// OfflineState is a page or row's lifecycle state, transitioning
// Online -> Offlined (success) or Online -> OfflineFailed (retried on
// the next threshold crossing).
type OfflineState int

const (
	Online OfflineState = iota
	Offlined
	OfflineFailed
)

func (s OfflineState) String() string {
	switch s {
	case Offlined:
		return "offlined"
	case OfflineFailed:
		return "offline_failed"
	default:
		return "online"
	}
}

// Offliner asks the kernel to take a physical page out of service by
// writing its address to the soft_offline_page or hard_offline_page
// sysfs attribute. Implementations should treat both attributes as
// write-only files accepting a hex address string.
type Offliner interface {
	SoftOffline(addr uint64) error
	HardOffline(addr uint64) error
}

// SysfsOffliner is the production Offliner: it writes a hex page
// address to the kernel's soft_offline_page/hard_offline_page sysfs
// attributes.
type SysfsOffliner struct {
	SoftPath string
	HardPath string
}

func NewSysfsOffliner() *SysfsOffliner {
	return &SysfsOffliner{
		SoftPath: "/sys/devices/system/memory/soft_offline_page",
		HardPath: "/sys/devices/system/memory/hard_offline_page",
	}
}

func (o *SysfsOffliner) SoftOffline(addr uint64) error {
	return writeHexAddr(o.SoftPath, addr)
}

func (o *SysfsOffliner) HardOffline(addr uint64) error {
	return writeHexAddr(o.HardPath, addr)
}

func writeHexAddr(path string, addr uint64) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("0x%x\n", addr)), 0)
}

// offlineWithAction runs the action ladder shared by the page and row
// engines: off/account never touch the kernel, soft/hard/soft_then_hard
// do, and an already-offlined resource is left alone (idempotent).
func offlineWithAction(off Offliner, action config.Action, addr uint64, state OfflineState, log logr.Logger) OfflineState {
	if action == config.ActionOff || action == config.ActionAccount {
		log.Info("remediation: accounting only, not offlining", "addr", fmt.Sprintf("0x%x", addr), "action", action.String())
		return state
	}
	if state == Offlined {
		return state
	}

	var err error
	switch action {
	case config.ActionSoft:
		err = off.SoftOffline(addr)
	case config.ActionHard:
		err = off.HardOffline(addr)
	case config.ActionSoftThenHard:
		if err = off.SoftOffline(addr); err != nil {
			err = off.HardOffline(addr)
		}
	}
	if err != nil {
		log.Error(fmt.Errorf("%w: %v", errors.ErrOfflineFailed, err), "remediation: offline request failed", "addr", fmt.Sprintf("0x%x", addr))
		return OfflineFailed
	}
	return Offlined
}

// pageAlignMask masks an address down to the start of its 4 KiB page,
// the alignment every page-keyed record is bucketed by.
const pageAlignMask = ^uint64(4096 - 1)

func alignPage(addr uint64) uint64 { return addr & pageAlignMask }

// Clock abstracts time.Now so window-rollover math can be driven
// deterministically in tests.
type Clock func() time.Time

func defaultClock() time.Time { return time.Now() }
