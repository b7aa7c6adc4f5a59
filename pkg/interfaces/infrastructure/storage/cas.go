package storage

import "context"

// CAS is a minimal content-addressed store: callers never choose a key,
// only the content hash identifies what was written. The ContractCode
// registry's external byte provider is a CAS keyed by program id.
type CAS interface {
	// Put writes content and returns its content hash and size.
	Put(ctx context.Context, content []byte) (hash []byte, size uint64, err error)

	// Get reads content by hash.
	Get(ctx context.Context, hash []byte) (content []byte, err error)

	// Has reports whether content for hash is present.
	Has(ctx context.Context, hash []byte) (bool, error)

	// Remove deletes content by hash. Implementations may treat this as a
	// no-op (idempotent) rather than an error when the hash is absent.
	Remove(ctx context.Context, hash []byte) error
}
