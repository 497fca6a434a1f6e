package storage

import (
	"context"
	"fmt"
)

// Sink kinds
const (
	KindFile   = "file"
	KindAzure  = "azblob"
	KindSQLite = "sqlite"
)

// Options selects and configures a sink
type Options struct {
	Kind           string
	Dir            string
	AzureAccount   string
	AzureContainer string
	SQLitePath     string
}

// Open returns the sink named by opts.Kind.
func Open(ctx context.Context, opts Options) (StorageInterface, error) {
	switch opts.Kind {
	case KindFile, "":
		return NewLocalStorage(opts.Dir)
	case KindAzure:
		return NewAzureStorage(ctx, opts.AzureAccount, opts.AzureContainer)
	case KindSQLite:
		return NewSQLiteStorage(opts.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown sink %q", opts.Kind)
	}
}
