// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package cputype detects the running CPU's machine-check decoder family
// from /proc/cpuinfo, adapting the field-scanning style
// pkg/performance/collectors' CPUInfoCollector uses for full CPU topology
// down to the handful of fields the machine-check decoder dispatch needs:
// vendor_id, cpu family, model, cpu MHz, and the first flags line.
package cputype

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// Type identifies the machine-check decoder family for a CPU.
type Type int

const (
	TypeUnknown Type = iota
	TypeGeneric
	TypeP6Old
	TypeCore2
	TypeDunnington
	TypeTulsa
	TypeNehalem
	TypeXeon75xx
	TypeSandyBridge
	TypeSandyBridgeEP
	TypeIvyBridge
	TypeIvyBridgeEPEX
	TypeHaswell
	TypeBroadwell
	TypeKnightsLanding
	TypeSkylakeX
	TypeIcelakeX
	TypeIcelakeDE
	TypeTremontD
	TypeSapphireRapids
	TypeGraniteRapids
	TypeAMDK8
	TypeAMDSMCA
	TypeZhaoxinKH50000
)

func (t Type) String() string {
	switch t {
	case TypeGeneric:
		return "generic"
	case TypeP6Old:
		return "p6old"
	case TypeCore2:
		return "core2"
	case TypeDunnington:
		return "dunnington"
	case TypeTulsa:
		return "tulsa"
	case TypeNehalem:
		return "nehalem"
	case TypeXeon75xx:
		return "xeon75xx"
	case TypeSandyBridge:
		return "sandy_bridge"
	case TypeSandyBridgeEP:
		return "sandy_bridge_ep"
	case TypeIvyBridge:
		return "ivy_bridge"
	case TypeIvyBridgeEPEX:
		return "ivy_bridge_ep_ex"
	case TypeHaswell:
		return "haswell"
	case TypeBroadwell:
		return "broadwell"
	case TypeKnightsLanding:
		return "knights_landing"
	case TypeSkylakeX:
		return "skylake_x"
	case TypeIcelakeX:
		return "icelake_x"
	case TypeIcelakeDE:
		return "icelake_de"
	case TypeTremontD:
		return "tremont_d"
	case TypeSapphireRapids:
		return "sapphire_rapids"
	case TypeGraniteRapids:
		return "granite_rapids"
	case TypeAMDK8:
		return "amd_k8"
	case TypeAMDSMCA:
		return "amd_smca"
	case TypeZhaoxinKH50000:
		return "zhaoxin_kh50000"
	default:
		return "unknown"
	}
}

// Vendor identifies the CPU manufacturer, read verbatim from vendor_id.
type Vendor int

const (
	VendorUnknown Vendor = iota
	VendorIntel
	VendorAMD
	VendorZhaoxin
)

// Info is the subset of /proc/cpuinfo the machine-check decoder needs.
type Info struct {
	Vendor    Vendor
	VendorID  string
	Family    int
	Model     int
	MHz       float64
	Flags     []string
	Processor int
}

// ParseCPUInfo reads path (typically /proc/cpuinfo) and returns the first
// processor entry's relevant fields.
func ParseCPUInfo(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	var info Info
	seenFlags := false

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.SplitN(line, ":", 2)
		if len(fields) != 2 {
			continue
		}
		key := strings.TrimSpace(fields[0])
		value := strings.TrimSpace(fields[1])

		switch key {
		case "vendor_id":
			if info.VendorID == "" {
				info.VendorID = value
				info.Vendor = vendorFromID(value)
			}
		case "cpu family":
			if info.Family == 0 {
				info.Family, _ = strconv.Atoi(value)
			}
		case "model":
			if info.Model == 0 {
				info.Model, _ = strconv.Atoi(value)
			}
		case "cpu MHz":
			if info.MHz == 0 {
				info.MHz, _ = strconv.ParseFloat(value, 64)
			}
		case "flags", "Features":
			if !seenFlags {
				info.Flags = strings.Fields(value)
				seenFlags = true
			}
		}
	}
	return info, scanner.Err()
}

func vendorFromID(id string) Vendor {
	switch {
	case strings.Contains(id, "AuthenticAMD"):
		return VendorAMD
	case strings.Contains(id, "GenuineIntel"):
		return VendorIntel
	case strings.Contains(id, "CentaurHauls"), strings.Contains(id, "Shanghai"):
		return VendorZhaoxin
	default:
		return VendorUnknown
	}
}

// Detect selects a Type from (vendor, family, model), mirroring the
// kernel's machine-check vendor/family/model dispatch. Unknown Intel
// family/model combinations fall back to TypeGeneric (architectural-
// only decoding). Unknown AMD families report ok=false (UnsupportedCpu).
func Detect(info Info) (t Type, ok bool) {
	switch info.Vendor {
	case VendorIntel:
		return detectIntel(info.Family, info.Model), true
	case VendorAMD:
		return detectAMD(info.Family), info.Family == 0x0f || info.Family >= 0x10
	case VendorZhaoxin:
		return TypeZhaoxinKH50000, true
	default:
		return TypeGeneric, false
	}
}

func detectIntel(family, model int) Type {
	if family == 15 {
		if model == 6 {
			return TypeTulsa
		}
		return TypeGeneric // P4; no dedicated decoder carried, use generic
	}
	if family != 6 {
		return TypeGeneric
	}

	switch {
	case model < 0x0f:
		return TypeP6Old
	case model == 0x0f, model == 0x17:
		return TypeCore2
	case model == 0x1d:
		return TypeDunnington
	case model == 0x1a, model == 0x2c, model == 0x1e, model == 0x25:
		return TypeNehalem
	case model == 0x2e, model == 0x2f:
		return TypeXeon75xx
	case model == 0x2a:
		return TypeSandyBridge
	case model == 0x2d:
		return TypeSandyBridgeEP
	case model == 0x3a:
		return TypeIvyBridge
	case model == 0x3e:
		return TypeIvyBridgeEPEX
	case model == 0x3c, model == 0x45, model == 0x46:
		return TypeHaswell
	case model == 0x3d, model == 0x47, model == 0x4f, model == 0x56:
		return TypeBroadwell
	case model == 0x57, model == 0x85:
		return TypeKnightsLanding
	case model == 0x55:
		return TypeSkylakeX
	case model == 0x6a, model == 0x6c:
		return TypeIcelakeX
	case model == 0x9c:
		return TypeIcelakeDE
	case model == 0x86:
		return TypeTremontD
	case model == 0x8f:
		return TypeSapphireRapids
	case model == 0xad, model == 0xae:
		return TypeGraniteRapids
	default:
		return TypeGeneric
	}
}

func detectAMD(family int) Type {
	if family == 0x0f {
		return TypeAMDK8
	}
	if family >= 0x10 {
		return TypeAMDSMCA
	}
	return TypeGeneric
}
