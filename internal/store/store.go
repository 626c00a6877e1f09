// Package store persists notes and their revisions. The sync protocol
// consumes it as a plain request/response collaborator; nothing here is
// aware of channels or sessions.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("store: not found")

type Note struct {
	ID       string
	Title    string
	Content  string
	Revision int
	SavedBy  string
	SavedAt  time.Time
}

// Revision is a snapshot of a note taken just before a persist replaced
// its content. N counts up from 1.
type Revision struct {
	NoteID  string
	N       int
	Title   string
	Content string
	SavedAt time.Time
}

type Store interface {
	// GetNote returns ErrNotFound for unknown ids.
	GetNote(ctx context.Context, id string) (*Note, error)

	// PersistNote replaces the note's content, snapshotting the previous
	// content as a new revision. Creates the note if it does not exist.
	PersistNote(ctx context.Context, id, title, content, savedBy string) error

	ListRevisions(ctx context.Context, id string) ([]Revision, error)
	GetRevision(ctx context.Context, id string, n int) (*Revision, error)
	DeleteRevision(ctx context.Context, id string, n int) error
}
