// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package disk decodes block-layer I/O error completions reported
// through the kernel's block_rq_error trace event.
package disk

import (
	"fmt"

	"github.com/antimetal/rasdaemon/pkg/record"
)

// minorBits mirrors the kernel's MINORBITS: dev_t packs a 12-bit major
// number above a 20-bit minor number.
const minorBits = 20

func major(dev uint32) uint32 { return dev >> minorBits }
func minor(dev uint32) uint32 { return dev & ((1 << minorBits) - 1) }

// FormatDev renders a packed dev_t as "major:minor", matching
// asprintf(&ev.dev, "%u:%u", MAJOR(dev), MINOR(dev)).
func FormatDev(dev uint32) string {
	return fmt.Sprintf("%d:%d", major(dev), minor(dev))
}

// blkErrors ports the blk_errors table: negative errno values mapped to
// the kernel's human-readable block-layer error classification.
var blkErrors = map[int]string{
	-95:  "operation not supported error", // EOPNOTSUPP
	-110: "timeout error",                 // ETIMEDOUT
	-28:  "critical space allocation error", // ENOSPC
	-67:  "recoverable transport error",    // ENOLINK
	-121: "critical target error",          // EREMOTEIO
	-52:  "critical nexus error",           // EBADE
	-61:  "critical medium error",          // ENODATA
	-84:  "protection error",               // EILSEQ
	-12:  "kernel resource error",          // ENOMEM
	-16:  "device resource error",          // EBUSY
	-11:  "nonblocking retry error",        // EAGAIN
	-88:  "dm internal retry error",        // EREMCHG
	-5:   "I/O error",                      // EIO
}

func blkError(err int) string {
	if name, ok := blkErrors[err]; ok {
		return name
	}
	return "unknown block error"
}

// Input is the raw trace-event payload for a block_rq_error event.
type Input struct {
	Dev      uint32
	Sector   uint64
	NrSector uint32
	Error    int
	RWBS     string
	Cmd      string
}

// Decode fills rec from in, ported from ras_diskerror_event_handler.
func Decode(in Input) record.DiskError {
	return record.DiskError{
		Dev:      FormatDev(in.Dev),
		Sector:   in.Sector,
		NrSector: in.NrSector,
		Error:    blkError(in.Error),
		RWBS:     in.RWBS,
		Cmd:      in.Cmd,
	}
}
