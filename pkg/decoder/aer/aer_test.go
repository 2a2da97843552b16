// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package aer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDecodeCorrectableReplayTimerTimeout exercises S3: a correctable
// status of 0x1000 (bit 12) decodes to "Replay Timer Timeout".
func TestDecodeCorrectableReplayTimerTimeout(t *testing.T) {
	rec := Decode(Input{
		DevName:  "0000:3a:00.0",
		Severity: SeverityCorrected,
		Status:   0x1000,
	})
	assert.Equal(t, "Replay Timer Timeout", rec.Message)
	assert.Equal(t, "Corrected", rec.ErrorType)
}

func TestDecodeUncorrectableWithTLPHeader(t *testing.T) {
	rec := Decode(Input{
		DevName:        "0000:00:1c.0",
		Severity:       SeverityUncorrectedFatal,
		Status:         1 << 14, // Completion Timeout
		TLPHeaderValid: true,
		TLPHeader:      [4]uint32{0x1, 0x2, 0x3, 0x4},
	})
	assert.Contains(t, rec.Message, "Completion Timeout")
	assert.Contains(t, rec.Message, "TLP Header: 00000001 00000002 00000003 00000004")
	assert.Equal(t, "Uncorrected (Fatal)", rec.ErrorType)
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, "err", LogLevel(SeverityCorrected))
	assert.Equal(t, "crit", LogLevel(SeverityUncorrectedNonFatal))
	assert.Equal(t, "emerg", LogLevel(SeverityUncorrectedFatal))
}

func TestParseDevName(t *testing.T) {
	seg, bus, dev, fn, err := ParseDevName("0000:3a:00.1")
	require.NoError(t, err)
	assert.Equal(t, 0, seg)
	assert.Equal(t, 0x3a, bus)
	assert.Equal(t, 0, dev)
	assert.Equal(t, 1, fn)
}

func TestParseDevNameMalformed(t *testing.T) {
	_, _, _, _, err := ParseDevName("not-a-dev-name")
	assert.Error(t, err)
}
