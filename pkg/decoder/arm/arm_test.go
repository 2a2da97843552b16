// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package arm

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildPEIBuf(t *testing.T, e PEIEntry) []byte {
	t.Helper()
	buf := make([]byte, peiEntrySize)
	buf[0] = e.Version
	buf[1] = e.Length
	binary.LittleEndian.PutUint16(buf[2:4], e.ValidationBits)
	buf[4] = byte(e.Type)
	binary.LittleEndian.PutUint16(buf[5:7], e.MultipleError)
	buf[7] = e.Flags
	binary.LittleEndian.PutUint64(buf[8:16], e.ErrorInfo)
	binary.LittleEndian.PutUint64(buf[16:24], e.VirtFaultAddr)
	binary.LittleEndian.PutUint64(buf[24:32], e.PhysicalFaultAddr)
	return buf
}

// TestDecodeCacheCorrectedError exercises S4: an ARM PEI entry describing
// a corrected cache error with transaction type, operation type, level,
// and corrected-status fields all present.
func TestDecodeCacheCorrectedError(t *testing.T) {
	var errInfo uint64
	errInfo |= 1 << 0          // transaction type valid
	errInfo |= 1 << 1          // operation type valid
	errInfo |= 1 << 2          // level valid
	errInfo |= 1 << 4          // corrected valid
	errInfo |= 1 << 26         // corrected = true
	errInfo |= uint64(1) << 16 // transaction type = Data Access
	errInfo |= uint64(3) << 18 // operation type = Data read
	errInfo |= uint64(1) << 22 // cache level 1

	entry := PEIEntry{
		Type:           TypeCache,
		ValidationBits: validErrInfo,
		ErrorInfo:      errInfo,
	}
	buf := buildPEIBuf(t, entry)

	parsed, err := ParsePEIEntries(buf)
	require.NoError(t, err)
	require.Len(t, parsed, 1)

	rec := Decode(0, 0, 0, 0, 0, parsed)
	assert.Equal(t, "cache error", rec.ErrorTypes)
	assert.Contains(t, rec.ErrorInfo, "transaction type:Data Access")
	assert.Contains(t, rec.ErrorInfo, "cache error, operation type:Data read")
	assert.Contains(t, rec.ErrorInfo, "cache level: 1")
	assert.Contains(t, rec.ErrorInfo, "the error has been corrected")
}

func TestDecodeErrorCountFromMultipleError(t *testing.T) {
	entry := PEIEntry{
		Type:           TypeBus,
		ValidationBits: validErrorCount,
		MultipleError:  2,
	}
	buf := buildPEIBuf(t, entry)
	parsed, err := ParsePEIEntries(buf)
	require.NoError(t, err)

	rec := Decode(1, 0x81000000, 0x410fd034, 1, 0, parsed)
	assert.Equal(t, 3, rec.ErrorCount)
	assert.EqualValues(t, 1, rec.Affinity)
}

func TestParsePEIEntriesRejectsMisalignedBuffer(t *testing.T) {
	_, err := ParsePEIEntries(make([]byte, peiEntrySize+1))
	assert.Error(t, err)
}

func TestDecodeVendorErrorSkipsErrInfoDecode(t *testing.T) {
	entry := PEIEntry{
		Type:           TypeVendor,
		ValidationBits: validErrInfo,
		ErrorInfo:      0xffffffffffffffff,
	}
	buf := buildPEIBuf(t, entry)
	parsed, err := ParsePEIEntries(buf)
	require.NoError(t, err)

	rec := Decode(0, 0, 0, 0, 0, parsed)
	assert.Empty(t, rec.ErrorInfo)
}
