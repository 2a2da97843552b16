// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package core

import (
	"bytes"
	"time"

	"github.com/antimetal/rasdaemon/pkg/trace"
)

// The helpers below bind a trace.Event's named fields into the scalar
// Go values each decoder's Input struct expects, so every handler reads
// "give me field X" rather than re-deriving byte offsets.

func u64(evt trace.Event, name string) uint64 {
	f, ok := evt.Schema.Field(name)
	if !ok {
		return 0
	}
	v, err := trace.Uint64(evt.Raw, f)
	if err != nil {
		return 0
	}
	return v
}

func i64(evt trace.Event, name string) int64 { return int64(u64(evt, name)) }
func i32(evt trace.Event, name string) int32 { return int32(u64(evt, name)) }
func u32(evt trace.Event, name string) uint32 { return uint32(u64(evt, name)) }
func i8(evt trace.Event, name string) int8    { return int8(u64(evt, name)) }
func u8(evt trace.Event, name string) uint8   { return uint8(u64(evt, name)) }
func i16(evt trace.Event, name string) int16  { return int16(u64(evt, name)) }
func u16(evt trace.Event, name string) uint16 { return uint16(u64(evt, name)) }
func boolField(evt trace.Event, name string) bool { return u64(evt, name) != 0 }

func bytesField(evt trace.Event, name string) []byte {
	f, ok := evt.Schema.Field(name)
	if !ok {
		return nil
	}
	raw, err := trace.Bytes(evt.Raw, f)
	if err != nil {
		return nil
	}
	return raw
}

// strField reads a fixed-width char[] field and trims trailing NUL
// padding, the convention ftrace uses for string-valued trace fields.
func strField(evt trace.Event, name string) string {
	raw := bytesField(evt, name)
	if raw == nil {
		return ""
	}
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return string(raw)
}

func eventTime(evt trace.Event, diff time.Duration) time.Time {
	return time.Unix(0, int64(evt.Timestamp)).Add(diff)
}
