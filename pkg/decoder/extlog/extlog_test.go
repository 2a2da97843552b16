// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package extlog

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func buildCperData(t *testing.T, validBits uint64, bank, row uint16) []byte {
	t.Helper()
	buf := make([]byte, 54)
	binary.LittleEndian.PutUint64(buf[0:8], validBits)
	binary.LittleEndian.PutUint16(buf[14:16], bank) // bank offset
	binary.LittleEndian.PutUint16(buf[18:20], row)  // row offset
	return buf
}

func TestDecodeMultiBitECC(t *testing.T) {
	in := Input{
		ErrorSeq:  5,
		EType:     3,
		Severity:  0,
		Address:   0x7f0000,
		PAMaskLSB: -1,
		CPERData:  buildCperData(t, validBank|validRow, 2, 100),
		FRUText:   "fru-text",
	}
	rec := Decode(in)
	assert.EqualValues(t, 5, rec.ErrorSeq)
	assert.EqualValues(t, 3, rec.EType)
	assert.Equal(t, "fru-text", rec.FRUText)

	msg := Message(in)
	assert.Contains(t, msg, "multi-bit ECC")
	assert.Contains(t, msg, "recoverable")
	assert.Contains(t, msg, "bank: 2")
	assert.Contains(t, msg, "row: 100")
	assert.Contains(t, msg, "mask: 0xffffffffffffffff")
}

func TestDecodeCperDataEmptyWhenNoValidationBits(t *testing.T) {
	assert.Equal(t, "", decodeCperData(buildCperData(t, 0, 0, 0)))
}

func TestErrMaskPartialLSB(t *testing.T) {
	assert.Equal(t, ^uint64(0x1f), errMask(5))
}

func TestErrTypeAndSeverityFallback(t *testing.T) {
	assert.Equal(t, "unknown-type", errType(127))
	assert.Equal(t, "unknown-severity", errSeverity(127))
}

func TestFruUUIDLayout(t *testing.T) {
	fru := make([]byte, 16)
	for i := range fru {
		fru[i] = byte(i)
	}
	uuid := fruUUID(fru)
	assert.Len(t, uuid, 36)
	assert.Equal(t, byte('-'), uuid[8])
	assert.Equal(t, byte('-'), uuid[13])
	assert.Equal(t, byte('-'), uuid[18])
	assert.Equal(t, byte('-'), uuid[23])
}
