// Package backup snapshots a tenant's module-owned data to blob storage and
// restores it with a row-count integrity check.
package backup

import (
	"context"
	"io"
)

// BlobStore is the blob-storage capability consumed by the backup service.
// Put returns an opaque locator that Get and Delete accept.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader) (locator string, err error)
	Get(ctx context.Context, locator string) (io.ReadCloser, error)
	Delete(ctx context.Context, locator string) error
}

// TenantData is the data-store capability over a tenant's module-owned
// tables: enumerate the tables a module owns, export rows scoped to one
// tenant, and bulk delete/insert for restore.
type TenantData interface {
	// Tables returns the static table declaration for a module.
	Tables(moduleID string) []string
	// Export returns all of a tenant's rows in the table.
	Export(ctx context.Context, tenantID, table string) ([]map[string]any, error)
	// DeleteAll removes all of a tenant's rows from the table.
	DeleteAll(ctx context.Context, tenantID, table string) error
	// Insert bulk-inserts rows for the tenant into the table.
	Insert(ctx context.Context, tenantID, table string, rows []map[string]any) error
	// Count returns the tenant's current row count in the table.
	Count(ctx context.Context, tenantID, table string) (int64, error)
}
