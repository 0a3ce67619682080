package rowlockipc

import (
	"fmt"
	"log/slog"
)

// Options configures Init.
type Options struct {
	// Path is the path to the database file being guarded; Init resolves
	// a relative path to an absolute one. Mapping and lock files are
	// derived from the absolute path (Path+".rlock", Path+".tlock", and
	// so on).
	//
	// Required.
	Path string

	// RowCapacity is the number of slots in the row-lock table. Fixed at
	// creation time; later opens of the same database ignore this field
	// and use the capacity recorded in the existing mapping.
	//
	// Defaults to 4096 if zero.
	RowCapacity uint64

	// TableCapacity is the number of slots in the table-lock table.
	// Same creation-time-only semantics as RowCapacity.
	//
	// Defaults to 256 if zero.
	TableCapacity uint64

	// Logger receives structured diagnostics, most notably a warning
	// when an operation, on acquiring a mutex, finds a mapping left by a
	// process that crashed mid critical section.
	//
	// Defaults to slog.Default() if nil.
	Logger *slog.Logger
}

func (o Options) validate() error {
	if o.Path == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidOptions)
	}
	if o.RowCapacity != 0 && (o.RowCapacity < minCapacity || o.RowCapacity > maxCapacity) {
		return fmt.Errorf("%w: row_capacity %d out of range [%d, %d]", ErrInvalidOptions, o.RowCapacity, minCapacity, maxCapacity)
	}
	if o.TableCapacity != 0 && (o.TableCapacity < minCapacity || o.TableCapacity > maxCapacity) {
		return fmt.Errorf("%w: table_capacity %d out of range [%d, %d]", ErrInvalidOptions, o.TableCapacity, minCapacity, maxCapacity)
	}
	return nil
}

func (o Options) rowCapacity() uint64 {
	if o.RowCapacity == 0 {
		return defaultRowCapacity
	}
	return o.RowCapacity
}

func (o Options) tableCapacity() uint64 {
	if o.TableCapacity == 0 {
		return defaultTableCapacity
	}
	return o.TableCapacity
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}
