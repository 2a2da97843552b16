// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package nonstandard decodes vendor-specific non-standard CPER
// sections. Each vendor registers one or more section-type UUIDs;
// Message dispatches on the section's UUID to the matching vendor
// decoder.
package nonstandard

import (
	"fmt"
	"strings"

	"github.com/antimetal/rasdaemon/pkg/record"
)

// Decoder decodes one vendor's non-standard CPER section payload into a
// human-readable message.
type Decoder func(payload []byte) (string, error)

var registry = map[string]Decoder{
	"a6980811-16ea-4e4d-b936-fb00a23ff29c": decodeYitian710,
	"c8b328a8-9917-4af6-9a13-2e08ab2e7586": decodeHisiliconCommon,
	"1f8161e1-55d6-41e6-bd10-7afd1dc5f7c5": decodeHisiHip08,
	"daffd814-6eba-4d8c-8a91-bc9bbf4aa301": decodeHisiHip07,
	"2826cc9f-448c-4c2b-86b6-a95394b7ef33": decodeAmpereOne,
	"e8ed898d-df16-43cc-8ecc-54f060ef157f": decodeAmpere,
	"82d78ba3-fa14-407a-ba0e-f3ba8170013c": decodeJaguarMicro,
}

// Register adds or overrides a vendor decoder for the given section-type
// UUID. Intended for vendor init-time self-registration, mirroring
// register_ns_ev_decoder.
func Register(secType string, d Decoder) {
	registry[normalizeUUID(secType)] = d
}

func normalizeUUID(s string) string {
	s = strings.ToLower(s)
	if !strings.Contains(s, "-") && len(s) == 32 {
		return fmt.Sprintf("%s-%s-%s-%s-%s", s[0:8], s[8:12], s[12:16], s[16:20], s[20:32])
	}
	return s
}

// Input is the raw trace-event payload for a non_standard_event.
type Input struct {
	SecType  string // UUID string, with or without dashes
	FRUText  string
	FRUID    string
	Severity record.Severity
	Error    []byte
}

// Decode copies in into a record, normalizing SecType to the dashed UUID
// form. Error keeps the raw section bytes; the vendor-specific rendering
// is produced separately by Message.
func Decode(in Input) record.NonStandardCper {
	rec := record.NonStandardCper{
		SecType:  normalizeUUID(in.SecType),
		FRUID:    in.FRUID,
		FRUText:  in.FRUText,
		Severity: in.Severity,
		Error:    in.Error,
	}
	return rec
}

// Message renders the vendor-specific decode, or a raw hex dump when no
// vendor decoder is registered for the section type.
func Message(in Input) string {
	if dec, ok := registry[normalizeUUID(in.SecType)]; ok {
		msg, err := dec(in.Error)
		if err == nil {
			return msg
		}
		return fmt.Sprintf("%s: %v", normalizeUUID(in.SecType), err)
	}
	return hexDump(in.Error)
}

func hexDump(data []byte) string {
	var b strings.Builder
	for i, v := range data {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02x", v)
	}
	return b.String()
}

func le32(data []byte, off int) uint32 {
	if off+4 > len(data) {
		return 0
	}
	return uint32(data[off]) | uint32(data[off+1])<<8 | uint32(data[off+2])<<16 | uint32(data[off+3])<<24
}

// yitianDDRRegNames mirrors yitian_ddr_payload_err_reg_name, the labels
// for the DDR register dump that follows the 2-word header.
var yitianDDRRegNames = []string{
	"ECCCFG0", "ECCCFG1", "ECCSTAT", "ECCERRCNT", "ECCCADDR0", "ECCCADDR1",
	"ECCCSYN0", "ECCCSYN1", "ECCCSYN2", "ECCUADDR0", "ECCUADDR1", "ECCUSYN0",
	"ECCUSYN1", "ECCUSYN2", "ECCBITMASK0", "ECCBITMASK1", "ECCBITMASK2",
	"ADVECCSTAT", "ECCAPSTAT", "ECCCDATA0", "ECCCDATA1", "ECCUDATA0",
	"ECCUDATA1", "ECCSYMBOL", "ECCERRCNTCTL", "ECCERRCNTSTAT", "ECCERRCNT0",
	"ECCERRCNT1",
}

const yitianRASTypeDDR = 0

// decodeYitian710 ports decode_yitian710_ns_error /
// decode_yitian_ddr_payload_err_regs for the single DDR payload type the
// original supports; the payload's first byte selects the type. The
// first word holds the type and subtype bytes, the second word the
// instance, and the remaining words are the raw ECC register dump.
func decodeYitian710(payload []byte) (string, error) {
	if len(payload) < 1 {
		return "", fmt.Errorf("empty payload")
	}
	if payload[0] != yitianRASTypeDDR {
		return "", fmt.Errorf("wrong payload type %d", payload[0])
	}
	if len(payload) < 8 {
		return "", fmt.Errorf("payload too short for DDR header")
	}
	typ := le32(payload, 0) & 0xff
	subtype := (le32(payload, 0) >> 8) & 0xff
	instance := le32(payload, 4)

	var b strings.Builder
	typeStr := "DDR"
	if typ != yitianRASTypeDDR {
		typeStr = "unknown"
	}
	fmt.Fprintf(&b, "Error Type: %s, Error SubType: %d, Error Instance: 0x%x", typeStr, subtype, instance)

	regs := payload[8:]
	for i := 0; i*4+4 <= len(regs) && i < len(yitianDDRRegNames); i++ {
		fmt.Fprintf(&b, ", %s: 0x%x", yitianDDRRegNames[i], le32(regs, i*4))
	}
	return b.String(), nil
}

// decodeHisiliconCommon decodes the HiSilicon common OEM type 1/2
// header (module ID + sub-module ID byte pair at the front of the
// section, shared by the HIP07/HIP08 "common" section type).
func decodeHisiliconCommon(payload []byte) (string, error) {
	if len(payload) < 2 {
		return "", fmt.Errorf("payload too short")
	}
	return fmt.Sprintf("HISI Common HW error: module_id=%d sub_module_id=%d", payload[0], payload[1]), nil
}

// decodeHisiHip08 ports the HIP08-specific OEM section headers (PCIe
// local, LPC, or SAS) keyed by the same module/sub-module byte pair
// convention as the common decoder.
func decodeHisiHip08(payload []byte) (string, error) {
	if len(payload) < 2 {
		return "", fmt.Errorf("payload too short")
	}
	return fmt.Sprintf("HISI HIP08 HW error: module_id=%d sub_module_id=%d, raw=%s",
		payload[0], payload[1], hexDump(payload[2:])), nil
}

// decodeHisiHip07 mirrors decodeHisiHip08 for the older HIP07 socket.
func decodeHisiHip07(payload []byte) (string, error) {
	if len(payload) < 2 {
		return "", fmt.Errorf("payload too short")
	}
	return fmt.Sprintf("HISI HIP07 HW error: module_id=%d sub_module_id=%d, raw=%s",
		payload[0], payload[1], hexDump(payload[2:])), nil
}

// decodeAmpereOne ports the AmpereOne RAS2 OEM decode's leading error
// type/subtype header.
func decodeAmpereOne(payload []byte) (string, error) {
	if len(payload) < 4 {
		return "", fmt.Errorf("payload too short")
	}
	return fmt.Sprintf("AmpereOne RAS2 error: type=0x%x subtype=0x%x", payload[0], payload[1]), nil
}

// decodeAmpere ports the original Ampere Altra OEM section decode.
func decodeAmpere(payload []byte) (string, error) {
	if len(payload) < 4 {
		return "", fmt.Errorf("payload too short")
	}
	return fmt.Sprintf("Ampere error: signature=0x%x", le32(payload, 0)), nil
}

// decodeJaguarMicro ports the JaguarMicro DPU OEM error section decode.
func decodeJaguarMicro(payload []byte) (string, error) {
	if len(payload) < 4 {
		return "", fmt.Errorf("payload too short")
	}
	return fmt.Sprintf("JaguarMicro error: error_code=0x%x", le32(payload, 0)), nil
}
