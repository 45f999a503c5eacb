// Package browser abstracts the local bookmark replica.
//
// The engine never talks to a concrete bookmark host; it consumes this
// interface. FileStore (filestore.go) implements it over a
// browser-export JSON file so the engine is fully exercisable from the
// CLI and tests; a native extension shell can plug in its own
// implementation.
package browser

import (
	"context"

	"github.com/marksync/marksync/internal/bookmarks"
	"github.com/marksync/marksync/internal/diff"
)

// EventOp is the kind of local mutation observed.
type EventOp int

const (
	// OpCreate indicates an entry was created.
	OpCreate EventOp = iota
	// OpRemove indicates an entry was removed.
	OpRemove
	// OpChange indicates an entry's fields changed.
	OpChange
	// OpMove indicates an entry changed parents.
	OpMove
)

// String returns a human-readable name for the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpRemove:
		return "remove"
	case OpChange:
		return "change"
	case OpMove:
		return "move"
	default:
		return "unknown"
	}
}

// Event is one local mutation notification. Events carry no payload:
// the engine rereads the whole tree when it acts, so the event's only
// job is to schedule a debounced sync.
type Event struct {
	Op EventOp
}

// Browser is the local replica collaborator.
type Browser interface {
	// GetTree reads the current local tree fresh from the host.
	GetTree(ctx context.Context) (*bookmarks.Entry, error)

	// ApplyChanges materializes a change set against the local tree.
	// Mutations must be observable on the Events stream like any other
	// edit; the engine suppresses its own triggers while applying.
	ApplyChanges(ctx context.Context, cs diff.ChangeSet) error

	// ReplaceAll overwrites the local tree wholesale. Destructive:
	// only pull uses it, when the user explicitly discards local-only
	// changes.
	ReplaceAll(ctx context.Context, tree *bookmarks.Entry) error

	// Events returns the mutation notification stream driving the
	// debounce policy. Closed when the replica shuts down.
	Events() <-chan Event
}
