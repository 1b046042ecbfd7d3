// Package persist abstracts where encoded cache snapshots live between
// process runs.
//
// A Store holds exactly one opaque blob per facade instance: the snapshot
// bytes produced by the configured codec. Load at construction, Save at
// shutdown; both are best-effort from the facade's point of view.
package persist

import "context"

// Store is a single-slot durable blob store.
type Store interface {
	// Load returns the stored snapshot. ok is false when nothing was saved
	// yet; that is not an error.
	Load(ctx context.Context) (data []byte, ok bool, err error)

	// Save replaces the stored snapshot.
	Save(ctx context.Context, data []byte) error

	// Close releases resources.
	Close(ctx context.Context) error
}
