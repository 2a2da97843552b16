// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package trace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/antimetal/rasdaemon/pkg/errors"
	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"
)

// Event is one decoded ring-buffer record handed to a registered
// Handler, carrying the parsed schema needed to locate named fields.
type Event struct {
	Schema    *Schema
	Raw       []byte
	CPU       int
	Timestamp uint64
}

// Handler processes one event of its registered kind.
type Handler func(Event)

// Filter reports whether an event's raw record passes a compiled filter
// expression (§4.D step 3).
type Filter func(raw []byte, schema *Schema) bool

// TriggerSetupFunc is the one-shot per-event hook named in §4.D step 6,
// run once after an event is otherwise fully registered. Used for
// mc_event and memory_failure_event to wire environment-variable driven
// trigger dispatch.
type TriggerSetupFunc func(f *Facility, group, name string) error

type registeredEvent struct {
	schema  *Schema
	handler Handler
	filter  Filter
}

// Registry implements §4.D: per-event format parsing, filter attachment,
// disable-list enforcement, set_event registration, and the one-shot
// trigger-setup hook.
type Registry struct {
	log      logr.Logger
	facility *Facility

	mu     sync.Mutex
	events map[string]*registeredEvent
}

func NewRegistry(f *Facility, log logr.Logger) *Registry {
	return &Registry{
		log:      log.WithName("trace-registry"),
		facility: f,
		events:   make(map[string]*registeredEvent),
	}
}

func eventKey(group, name string) string { return group + ":" + name }

// Register attempts to enable one compiled-in event. It returns
// errors.ErrEventDisabled if the event is on the disable list, and
// returns a non-nil error for any other registration failure; both are
// non-fatal to the daemon as a whole per §4.D — the caller is expected
// to log and continue to the next event.
func (r *Registry) Register(
	ctx context.Context,
	group, name string,
	handler Handler,
	filterExpr string,
	disabled map[string]bool,
	triggerSetup TriggerSetupFunc,
) error {
	log := r.log.WithValues("group", group, "event", name)

	if disabled[eventKey(group, name)] {
		log.Info("event left disabled by configuration")
		return errors.ErrEventDisabled
	}

	formatPath := filepath.Join(r.facility.Dir, "events", group, name, "format")
	data, err := backoff.Retry(ctx, func() ([]byte, error) {
		return os.ReadFile(formatPath)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(3))
	if err != nil {
		return fmt.Errorf("%w: %s:%s: %v", errors.ErrEventFormatMissing, group, name, err)
	}

	schema, err := parseFormat(group, name, data)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrEventFormatMissing, err)
	}

	var filter Filter
	if filterExpr != "" {
		filter, err = compileFilter(filterExpr)
		if err != nil {
			return fmt.Errorf("trace: compile filter for %s:%s: %w", group, name, err)
		}
	}

	if err := appendSetEvent(r.facility.Dir, group, name); err != nil {
		log.Error(err, "set_event append failed, event may not deliver data")
	}

	if triggerSetup != nil {
		if err := triggerSetup(r.facility, group, name); err != nil {
			log.Error(err, "trigger setup hook failed")
		}
	}

	r.mu.Lock()
	r.events[eventKey(group, name)] = &registeredEvent{schema: schema, handler: handler, filter: filter}
	r.mu.Unlock()

	log.V(1).Info("event registered")
	return nil
}

// Dispatch routes a raw ring-buffer record to its registered handler by
// (group, name), applying the compiled filter (if any) first. It is a
// no-op if the event was never registered.
func (r *Registry) Dispatch(group, name string, evt Event) {
	r.mu.Lock()
	re, ok := r.events[eventKey(group, name)]
	r.mu.Unlock()
	if !ok {
		return
	}
	evt.Schema = re.schema
	if re.filter != nil && !re.filter(evt.Raw, re.schema) {
		return
	}
	re.handler(evt)
}

// EnabledCount reports how many events were successfully registered.
// The caller fails startup with errors.ErrNoEventsAvailable when it is
// zero.
func (r *Registry) EnabledCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// LookupByID resolves a ring-buffer record's common_type field (the
// event's compiled-in ID, per its format descriptor) back to the
// (group, name) pair ingestion needs to call Dispatch.
func (r *Registry) LookupByID(id int) (group, name string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, re := range r.events {
		if re.schema.ID == id {
			return re.schema.Group, re.schema.Name, true
		}
	}
	return "", "", false
}

func appendSetEvent(dir, group, name string) error {
	f, err := os.OpenFile(filepath.Join(dir, "set_event"), os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return fmt.Errorf("open set_event: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(group + ":" + name + "\n"); err != nil {
		return fmt.Errorf("write set_event: %w", err)
	}
	return nil
}

// compileFilter parses a minimal ftrace-style comparison expression of
// the form "field OP value", where OP is one of ==, !=, >=, <=, >, <.
// More elaborate boolean combinations are out of scope; the kernel's own
// filter file accepts the same simple grammar for the mc_event and
// memory_failure_event filters this daemon actually installs.
func compileFilter(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	for _, op := range []string{"==", "!=", ">=", "<=", ">", "<"} {
		idx := strings.Index(expr, op)
		if idx <= 0 {
			continue
		}
		fieldName := strings.TrimSpace(expr[:idx])
		valStr := strings.TrimSpace(expr[idx+len(op):])
		want, err := strconv.ParseInt(valStr, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("trace: filter value %q: %w", valStr, err)
		}
		return func(raw []byte, schema *Schema) bool {
			f, ok := schema.Field(fieldName)
			if !ok {
				return false
			}
			got, err := Uint64(raw, f)
			if err != nil {
				return false
			}
			gotSigned := int64(got)
			switch op {
			case "==":
				return gotSigned == want
			case "!=":
				return gotSigned != want
			case ">=":
				return gotSigned >= want
			case "<=":
				return gotSigned <= want
			case ">":
				return gotSigned > want
			case "<":
				return gotSigned < want
			}
			return false
		}, nil
	}
	return nil, fmt.Errorf("trace: unrecognized filter expression %q", expr)
}
