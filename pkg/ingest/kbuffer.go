// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package ingest

import (
	"encoding/binary"
	"fmt"

	"github.com/antimetal/rasdaemon/pkg/errors"
)

// subbufferHeaderSize is the leading (page_timestamp, commit) pair every
// per-CPU subbuffer begins with, mirroring the layout events/header_page
// describes.
const subbufferHeaderSize = 16

// RawEvent is one record pulled out of a per-CPU subbuffer: a monotonic
// timestamp (relative to the subbuffer's base) and the opaque payload
// starting with the event's common_type field.
type RawEvent struct {
	Timestamp uint64
	Payload   []byte
}

// IterateSubbuffer binds one page-sized subbuffer read from
// per_cpu/cpu<i>/trace_pipe_raw into the kernel ring-buffer reader
// abstraction (§4.E) and returns its events in order. A negative commit
// count indicates subbuffer corruption and ends iteration early with
// errors.ErrDecodeError, matching the "negative kbuffer_curr_size" case.
func IterateSubbuffer(buf []byte) ([]RawEvent, error) {
	if len(buf) < subbufferHeaderSize {
		return nil, fmt.Errorf("%w: subbuffer shorter than header (%d bytes)", errors.ErrDecodeError, len(buf))
	}

	baseTimestamp := binary.LittleEndian.Uint64(buf[0:8])
	commit := int64(binary.LittleEndian.Uint64(buf[8:16]))
	if commit < 0 {
		return nil, fmt.Errorf("%w: negative subbuffer commit size %d", errors.ErrDecodeError, commit)
	}

	end := subbufferHeaderSize + int(commit)
	if end > len(buf) {
		end = len(buf)
	}

	var events []RawEvent
	off := subbufferHeaderSize
	for off+12 <= end {
		length := binary.LittleEndian.Uint32(buf[off : off+4])
		delta := binary.LittleEndian.Uint64(buf[off+4 : off+12])
		off += 12

		if length == 0 {
			break
		}
		if off+int(length) > end {
			return events, fmt.Errorf("%w: event length %d overruns subbuffer at offset %d", errors.ErrDecodeError, length, off)
		}

		events = append(events, RawEvent{
			Timestamp: baseTimestamp + delta,
			Payload:   buf[off : off+int(length)],
		})
		off += int(length)
	}
	return events, nil
}
