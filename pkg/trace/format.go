// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package trace

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Field is one named field in a trace event's binary record layout, as
// declared by the kernel's events/<group>/<name>/format file.
type Field struct {
	Name    string
	Offset  int
	Size    int
	Signed  bool
	IsArray bool
}

// Schema is a parsed event format descriptor (§4.D step 1).
type Schema struct {
	Group  string
	Name   string
	ID     int
	Fields []Field
}

// Field looks up a field by name, for handlers that bind against named
// columns rather than iterating the whole record.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

var (
	idLineRE    = regexp.MustCompile(`^ID:\s*(\d+)`)
	fieldLineRE = regexp.MustCompile(`field:(.+?);\s*offset:(\d+);\s*size:(\d+);\s*signed:(-?\d+);`)
	nameTokenRE = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)(\[[^\]]*\])?\s*$`)
)

// parseFormat parses the contents of an events/<group>/<name>/format
// file into a Schema (§4.D step 1).
func parseFormat(group, name string, data []byte) (*Schema, error) {
	schema := &Schema{Group: group, Name: name}

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if m := idLineRE.FindStringSubmatch(line); m != nil {
			id, err := strconv.Atoi(m[1])
			if err == nil {
				schema.ID = id
			}
			continue
		}
		if !strings.HasPrefix(line, "field:") {
			continue
		}
		m := fieldLineRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		decl, offsetStr, sizeStr, signedStr := m[1], m[2], m[3], m[4]

		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, fmt.Errorf("trace: parse format %s:%s: bad offset in %q", group, name, line)
		}
		size, err := strconv.Atoi(sizeStr)
		if err != nil {
			return nil, fmt.Errorf("trace: parse format %s:%s: bad size in %q", group, name, line)
		}

		tok := nameTokenRE.FindStringSubmatch(strings.TrimSpace(decl))
		if tok == nil {
			continue
		}
		field := Field{
			Name:    tok[1],
			Offset:  offset,
			Size:    size,
			Signed:  signedStr != "0",
			IsArray: tok[2] != "" || strings.Contains(decl, "*") || strings.Contains(decl, "__data_loc"),
		}
		schema.Fields = append(schema.Fields, field)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("trace: scan format %s:%s: %w", group, name, err)
	}
	if len(schema.Fields) == 0 {
		return nil, fmt.Errorf("trace: format %s:%s has no fields", group, name)
	}
	return schema, nil
}

// Uint64 extracts an unsigned scalar field's value from a raw record,
// widening as needed. Used by ingestion to bind named fields without
// callers re-deriving byte offsets.
func Uint64(raw []byte, f Field) (uint64, error) {
	if f.Offset+f.Size > len(raw) {
		return 0, fmt.Errorf("trace: field %s out of bounds (offset %d size %d, record len %d)",
			f.Name, f.Offset, f.Size, len(raw))
	}
	var v uint64
	for i := 0; i < f.Size && i < 8; i++ {
		v |= uint64(raw[f.Offset+i]) << (8 * i)
	}
	return v, nil
}

// Bytes extracts a variable-length or array field's raw bytes.
func Bytes(raw []byte, f Field) ([]byte, error) {
	if f.Offset+f.Size > len(raw) {
		return nil, fmt.Errorf("trace: field %s out of bounds (offset %d size %d, record len %d)",
			f.Name, f.Offset, f.Size, len(raw))
	}
	return raw[f.Offset : f.Offset+f.Size], nil
}
