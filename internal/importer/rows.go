// Package importer drives bulk CSV imports from upload acceptance to a
// terminal task state.
package importer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/acme/catalog-importer/internal/catalog"
)

// Known CSV columns. Extra columns are ignored; sku and name are required.
const (
	colSKU         = "sku"
	colName        = "name"
	colDescription = "description"
	colPrice       = "price"
)

// RowError is the failure value for one malformed input row. Malformed input
// is an expected outcome, not an exception.
type RowError struct {
	// Fields holds the row's raw values keyed by header name.
	Fields map[string]string
	// Reason is the human-readable validation failure.
	Reason string
}

func (e *RowError) Error() string {
	return e.Reason
}

// ParseRow validates one raw CSV record against the header and produces
// either a catalog command or a RowError. It never panics on malformed
// input and has no side effects.
func ParseRow(header, record []string) (catalog.Command, *RowError) {
	fields := recordFields(header, record)

	sku := strings.TrimSpace(fields[colSKU])
	name := strings.TrimSpace(fields[colName])
	if sku == "" || name == "" {
		return catalog.Command{}, &RowError{Fields: fields, Reason: "missing sku or name"}
	}

	cmd := catalog.Command{SKU: sku, Name: name}
	if desc, ok := fields[colDescription]; ok && desc != "" {
		d := desc
		cmd.Description = &d
	}
	if priceStr := strings.TrimSpace(fields[colPrice]); priceStr != "" {
		price, err := strconv.ParseFloat(priceStr, 64)
		if err != nil {
			return catalog.Command{}, &RowError{
				Fields: fields,
				Reason: fmt.Sprintf("invalid price %q", priceStr),
			}
		}
		if price < 0 {
			return catalog.Command{}, &RowError{Fields: fields, Reason: "price must be >= 0"}
		}
		cmd.Price = &price
	}
	return cmd, nil
}

func recordFields(header, record []string) map[string]string {
	fields := make(map[string]string, len(header))
	for i, name := range header {
		if i < len(record) {
			fields[name] = record[i]
		}
	}
	return fields
}

// NormalizeHeader lowercases and trims header names so column lookups are
// case-insensitive.
func NormalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = strings.ToLower(strings.TrimSpace(h))
	}
	return out
}
