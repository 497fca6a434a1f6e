package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Retrieve when no artifact has the name
var ErrNotFound = errors.New("artifact not found")

// StorageInterface defines where run artifacts (result tables, run reports) are written
type StorageInterface interface {
	Store(ctx context.Context, name string, data []byte, contentType string) error
	Retrieve(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
	// Location describes where an artifact lives, for logs and notifications
	Location(name string) string
}
