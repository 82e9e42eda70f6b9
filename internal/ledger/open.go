package ledger

import (
	"context"
	"fmt"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverSheet    = "sheet"
	DriverMemory   = "memory"
)

// Options selects and configures a store backend.
type Options struct {
	Driver string
	DSN    string // SQLite path or PostgreSQL connection string
	Sheet  SheetConfig
}

// Open creates the store selected by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case DriverSQLite, "":
		return OpenSQLite(ctx, opts.DSN)
	case DriverPostgres:
		return OpenPostgres(ctx, opts.DSN)
	case DriverSheet:
		return NewSheetStore(opts.Sheet)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", opts.Driver)
	}
}
