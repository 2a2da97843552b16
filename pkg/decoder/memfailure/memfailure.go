// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package memfailure decodes the kernel's memory_failure_event, fired
// when the page-poisoning machinery gives up on or recovers a page.
package memfailure

import (
	"fmt"

	"github.com/antimetal/rasdaemon/pkg/record"
)

var pageTypes = []string{
	"reserved kernel page", "high-order kernel page", "kernel slab page",
	"different compound page after locking", "huge page already hardware poisoned",
	"huge page", "free huge page", "non-pmd-sized huge page", "unmapping failed page",
	"dirty swapcache page", "clean swapcache page", "dirty mlocked LRU page",
	"clean mlocked LRU page", "dirty unevictable LRU page", "clean unevictable LRU page",
	"dirty LRU page", "clean LRU page", "already truncated LRU page", "free buddy page",
	"free buddy page (2nd try)", "dax page", "unsplit thp", "unknown page",
}

func pageType(t int) string {
	if t >= 0 && t < len(pageTypes) {
		return pageTypes[t]
	}
	return "unknown page"
}

var actionResults = []string{"Ignored", "Failed", "Delayed", "Recovered"}

func actionResult(r int) string {
	if r >= 0 && r < len(actionResults) {
		return actionResults[r]
	}
	return "unknown"
}

// Input is the raw trace-event payload for a memory_failure_event.
type Input struct {
	PFN    uint64
	Type   int
	Result int
}

// Decode fills rec from in, ported from ras_memory_failure_event_handler.
func Decode(in Input) record.MemoryFailure {
	return record.MemoryFailure{
		PFN:          in.PFN,
		PageType:     pageType(in.Type),
		ActionResult: actionResult(in.Result),
	}
}

// PFNString renders the page frame number the way sprintf(ev.pfn, "0x%llx", val) does.
func PFNString(pfn uint64) string {
	return fmt.Sprintf("0x%x", pfn)
}
