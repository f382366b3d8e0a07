package grib2

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// InventoryItem is one record of a wgrib2 "short" inventory, the format of
// the .idx files NOAA publishes next to each GRIB2 file:
//
//	71:49523307:d=2024010112:UGRD:10 m above ground:6 hour fcst:
//
// Extent is the record size in bytes, or -1 when it runs to the end of a file
// of unknown length.
type InventoryItem struct {
	RecordNumber int
	Offset       int64
	Extent       int64
	When         time.Time
	Parameters   []string
	Level        string
	Forecast     string
	lines        []string
}

// Line returns the inventory line(s) the item was parsed from.
func (item *InventoryItem) Line() string { return strings.Join(item.lines, "\n") }

// End returns the last byte offset of the record, or -1 if unknown.
func (item *InventoryItem) End() int64 {
	if item.Extent < 0 {
		return -1
	}
	return item.Offset + item.Extent - 1
}

// Inventory is an ordered list of records.
type Inventory []*InventoryItem

// ParseInventory reads a wgrib2 short inventory. totalLength is the size of
// the GRIB2 file it indexes, or a negative value if unknown. Sub-records
// ("12.1", "12.2") are collated into one item.
func ParseInventory(r io.Reader, totalLength int64) (Inventory, error) {
	var (
		inv  Inventory
		last *InventoryItem
	)
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 6 {
			return nil, fmt.Errorf("inventory line %d: %d fields, want at least 6", lineNo, len(fields))
		}

		ids := strings.Split(fields[0], ".")
		if len(ids) > 2 {
			return nil, fmt.Errorf("inventory line %d: invalid record number %q", lineNo, fields[0])
		}
		record, err := strconv.Atoi(ids[0])
		if err != nil {
			return nil, fmt.Errorf("inventory line %d: record number: %w", lineNo, err)
		}
		sub := 1
		if len(ids) == 2 {
			if sub, err = strconv.Atoi(ids[1]); err != nil {
				return nil, fmt.Errorf("inventory line %d: sub-record: %w", lineNo, err)
			}
		}
		offset, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("inventory line %d: offset: %w", lineNo, err)
		}
		when, err := parseDateField(fields[2])
		if err != nil {
			return nil, fmt.Errorf("inventory line %d: %w", lineNo, err)
		}

		if sub > 1 {
			if last == nil || last.RecordNumber != record {
				return nil, fmt.Errorf("inventory line %d: sub-record %s without its parent", lineNo, fields[0])
			}
			last.Parameters = append(last.Parameters, fields[3])
			last.lines = append(last.lines, line)
			continue
		}

		item := &InventoryItem{
			RecordNumber: record,
			Offset:       offset,
			When:         when,
			Parameters:   []string{fields[3]},
			Level:        fields[4],
			Forecast:     fields[5],
			lines:        []string{line},
		}
		if last != nil {
			last.Extent = item.Offset - last.Offset
			if last.Extent <= 0 {
				return nil, fmt.Errorf("inventory line %d: offset %d does not follow %d", lineNo, item.Offset, last.Offset)
			}
			inv = append(inv, last)
		}
		last = item
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if last != nil {
		last.Extent = -1
		if totalLength >= 0 {
			last.Extent = totalLength - last.Offset
		}
		inv = append(inv, last)
	}
	return inv, nil
}

// Find returns the first record whose line contains substr, e.g. "UGRD:10 m above ground".
func (inv Inventory) Find(substr string) (*InventoryItem, bool) {
	for _, item := range inv {
		for _, l := range item.lines {
			if strings.Contains(l, substr) {
				return item, true
			}
		}
	}
	return nil, false
}

// parseDateField parses "d=YYYYMMDDHH".
func parseDateField(s string) (time.Time, error) {
	v, ok := strings.CutPrefix(s, "d=")
	if !ok || len(v) != 10 {
		return time.Time{}, fmt.Errorf("invalid date field %q", s)
	}
	t, err := time.Parse("2006010215", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date field %q: %w", s, err)
	}
	return t.UTC(), nil
}
