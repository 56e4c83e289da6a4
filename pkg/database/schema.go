package database

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Capability records whether a table carries its newer optional columns.
// It is resolved once at startup and may only degrade afterwards.
type Capability struct {
	table string
	full  atomic.Bool
}

// NewCapability returns a capability for table with the given initial state.
func NewCapability(table string, full bool) *Capability {
	c := &Capability{table: table}
	c.full.Store(full)
	return c
}

// Table returns the table name.
func (c *Capability) Table() string { return c.table }

// Full reports whether the full column set should be written.
func (c *Capability) Full() bool { return c.full.Load() }

// Degrade switches to the base column set. It returns true only for the call that flipped it.
func (c *Capability) Degrade() bool { return c.full.CompareAndSwap(true, false) }

// ResolveCapability decides the column set for table according to mode:
// "full" and "base" are taken as-is, "detect" checks information_schema for every optional column.
func ResolveCapability(ctx context.Context, db DB, mode, table string, optional []string) (*Capability, error) {
	switch mode {
	case "full":
		return NewCapability(table, true), nil
	case "base":
		return NewCapability(table, false), nil
	}
	present, err := tableColumns(ctx, db, table)
	if err != nil {
		return nil, err
	}
	for _, col := range optional {
		if !present[col] {
			return NewCapability(table, false), nil
		}
	}
	return NewCapability(table, true), nil
}

func tableColumns(ctx context.Context, db DB, table string) (map[string]bool, error) {
	const q = `SELECT column_name FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1`
	rows, err := db.Query(ctx, q, table)
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", table, err)
	}
	defer rows.Close()
	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
