// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package aer decodes PCIe Advanced Error Reporting trace events.
package aer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/antimetal/rasdaemon/pkg/bitfield"
	"github.com/antimetal/rasdaemon/pkg/record"
)

// Severity mirrors the kernel's hw_event_aer_err_type enum.
type Severity int

const (
	SeverityCorrected Severity = iota
	SeverityUncorrectedNonFatal
	SeverityUncorrectedFatal
)

var aerCorrectableErrors = []string{
	0:  "Receiver Error",
	6:  "Bad TLP",
	7:  "Bad DLLP",
	8:  "RELAY_NUM Rollover",
	12: "Replay Timer Timeout",
	13: "Advisory Non-Fatal",
	14: "Corrected Internal Error",
	15: "Header Log Overflow",
}

var aerUncorrectableErrors = []string{
	4:  "Data Link Protocol",
	5:  "Surprise Link Down",
	12: "Poisoned TLP",
	13: "Flow Control Protocol",
	14: "Completion Timeout",
	15: "Completer Abort",
	16: "Unexpected Completion",
	17: "Receiver Overflow",
	18: "Malformed TLP",
	19: "ECRC",
	20: "Unsupported Request",
	21: "ACS Violation",
	22: "Uncorrected Internal",
	23: "MC Blocked TLP",
	24: "AtomicOp Egress Blocked",
	25: "TLP Prefix Blocked",
	26: "Poisoned TLP Egrees Blocked",
}

// Input is the raw trace-event payload for an aer_event.
type Input struct {
	DevName        string
	Severity       Severity
	Status         uint32
	TLPHeaderValid bool
	TLPHeader      [4]uint32
}

// Decode fills rec from in.
func Decode(in Input) record.PciAer {
	var rec record.PciAer
	rec.DevName = in.DevName
	rec.Status = in.Status
	rec.TLPHeaderValid = in.TLPHeaderValid
	rec.TLPHeader = in.TLPHeader

	table := aerUncorrectableErrors
	if in.Severity == SeverityCorrected {
		table = aerCorrectableErrors
	}
	msg := bitfield.BitfieldMsg(table, 0, 0, uint64(in.Status), 0)
	if in.TLPHeaderValid {
		if msg != "" {
			msg += " "
		}
		msg += fmt.Sprintf("TLP Header: %08x %08x %08x %08x",
			in.TLPHeader[0], in.TLPHeader[1], in.TLPHeader[2], in.TLPHeader[3])
	}
	rec.Message = msg

	switch in.Severity {
	case SeverityUncorrectedNonFatal:
		rec.ErrorType = "Uncorrected (Non-Fatal)"
	case SeverityUncorrectedFatal:
		rec.ErrorType = "Uncorrected (Fatal)"
	case SeverityCorrected:
		rec.ErrorType = "Corrected"
	default:
		rec.ErrorType = "Unknown severity"
	}

	return rec
}

// LogLevel maps severity to a syslog-style level name, mirroring the
// level selection in ras_aer_event_handler.
func LogLevel(sev Severity) string {
	switch sev {
	case SeverityUncorrectedNonFatal:
		return "crit"
	case SeverityUncorrectedFatal:
		return "emerg"
	case SeverityCorrected:
		return "err"
	default:
		return "debug"
	}
}

// ParseDevName splits a PCIe device name of the form "ssss:bb:dd.f" into
// its segment, bus, device, and function components.
func ParseDevName(devName string) (seg, bus, dev, fn int, err error) {
	parts := strings.FieldsFunc(devName, func(r rune) bool {
		return r == ':' || r == '.'
	})
	if len(parts) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("aer: malformed device name %q", devName)
	}
	vals := make([]int, 4)
	for i, p := range parts {
		v, convErr := strconv.ParseInt(p, 16, 64)
		if convErr != nil {
			return 0, 0, 0, 0, fmt.Errorf("aer: malformed device name %q: %w", devName, convErr)
		}
		vals[i] = int(v)
	}
	return vals[0], vals[1], vals[2], vals[3], nil
}
