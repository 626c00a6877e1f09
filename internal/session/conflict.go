package session

import "context"

// Decision is the outcome of the conflict prompt shown when a peer's save
// diverges from local content.
type Decision int

const (
	// Cancel keeps the local content untouched; the divergence persists
	// until the next reconciliation attempt.
	Cancel Decision = iota
	// Overwrite adopts the remote content exactly, discarding local edits.
	Overwrite
	// MergeKeepBoth appends the local content after the remote content,
	// separated by MergeSeparator. The user must re-save to persist it.
	MergeKeepBoth
)

func (d Decision) String() string {
	switch d {
	case Overwrite:
		return "overwrite"
	case MergeKeepBoth:
		return "merge"
	default:
		return "cancel"
	}
}

const MergeSeparator = "\n\n------- MERGED CONTENT -------\n\n"

// Merge produces the keep-both content, byte for byte, no trimming.
func Merge(remote, local string) string {
	return remote + MergeSeparator + local
}

// Resolver supplies the user's decision for a detected divergence. The
// call may suspend for as long as the user takes; remote deltas keep
// applying to the document meanwhile. A UI implementation must not be
// dismissible without an explicit choice.
type Resolver interface {
	Resolve(ctx context.Context, remote, local string) Decision
}

type ResolverFunc func(ctx context.Context, remote, local string) Decision

func (f ResolverFunc) Resolve(ctx context.Context, remote, local string) Decision {
	return f(ctx, remote, local)
}
