// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package nonstandard

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildYitianDDRPayload(t *testing.T, regs []uint32) []byte {
	t.Helper()
	buf := make([]byte, 8+4*len(regs))
	binary.LittleEndian.PutUint32(buf[0:4], yitianRASTypeDDR) // type+subtype word
	binary.LittleEndian.PutUint32(buf[4:8], 0x7)               // instance
	for i, v := range regs {
		binary.LittleEndian.PutUint32(buf[8+4*i:12+4*i], v)
	}
	return buf
}

func TestDecodeYitian710DDR(t *testing.T) {
	payload := buildYitianDDRPayload(t, []uint32{0x1, 0x2})
	msg, err := decodeYitian710(payload)
	require.NoError(t, err)
	assert.Contains(t, msg, "DDR")
	assert.Contains(t, msg, "Error Instance: 0x7")
	assert.Contains(t, msg, "ECCCFG0: 0x1")
	assert.Contains(t, msg, "ECCCFG1: 0x2")
}

func TestMessageDispatchesByUUID(t *testing.T) {
	payload := buildYitianDDRPayload(t, nil)
	msg := Message(Input{SecType: "a6980811-16ea-4e4d-b936-fb00a23ff29c", Error: payload})
	assert.Contains(t, msg, "DDR")
}

func TestMessageFallsBackToHexDumpForUnknownUUID(t *testing.T) {
	msg := Message(Input{SecType: "00000000-0000-0000-0000-000000000000", Error: []byte{0xde, 0xad}})
	assert.Equal(t, "de ad", msg)
}

func TestNormalizeUUIDAcceptsDashless(t *testing.T) {
	assert.Equal(t, "a6980811-16ea-4e4d-b936-fb00a23ff29c", normalizeUUID("a698081116ea4e4db936fb00a23ff29c"))
}

func TestDecodeHisiliconCommon(t *testing.T) {
	msg, err := decodeHisiliconCommon([]byte{3, 1})
	require.NoError(t, err)
	assert.Contains(t, msg, "module_id=3")
}

func TestRegisterOverridesVendorDecoder(t *testing.T) {
	called := false
	Register("11111111-1111-1111-1111-111111111111", func(payload []byte) (string, error) {
		called = true
		return "custom", nil
	})
	msg := Message(Input{SecType: "11111111-1111-1111-1111-111111111111", Error: []byte{1}})
	assert.True(t, called)
	assert.Equal(t, "custom", msg)
}
