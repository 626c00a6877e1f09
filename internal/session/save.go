package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opencase/notesync/internal/delta"
	"github.com/opencase/notesync/internal/event"
	"github.com/opencase/notesync/internal/metrics"
)

// Save persists the local content and announces the save to peers. On
// failure the local content is untouched and the user may retry; nothing
// is retried automatically since a blind retry could clobber a
// concurrent fix.
func (c *Controller) Save(ctx context.Context) error {
	c.mu.Lock()
	cur := c.cur
	if cur == nil {
		c.mu.Unlock()
		return ErrNoOpenNote
	}
	noteID, title, content := cur.noteID, cur.title, cur.doc
	c.mu.Unlock()

	if err := c.store.PersistNote(ctx, noteID, title, content, c.cfg.User); err != nil {
		metrics.Saves.WithLabelValues("error").Inc()
		c.view.SaveStatusChanged(StatusSaveFailed, c.cfg.User)
		return fmt.Errorf("persist note %s: %w", noteID, err)
	}
	metrics.Saves.WithLabelValues("ok").Inc()

	c.peer.Publish(event.Event{Kind: event.Save, NoteID: noteID, SavedBy: c.cfg.User})
	c.view.SaveStatusChanged(StatusSaved, c.cfg.User)
	return nil
}

// onPeerSave reacts to a peer's save announcement: update the saved-by
// indicator and reconcile local content against what was just persisted.
// Reconciliation runs off the delivery goroutine so the conflict prompt
// never blocks further remote deltas.
func (c *Controller) onPeerSave(ev event.Event) {
	c.mu.Lock()
	cur := c.cur
	if cur == nil || ev.NoteID != cur.noteID {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.view.SaveStatusChanged(StatusSaved, ev.SavedBy)
	go c.reconcile(context.Background())
}

// reconcile compares local content against the persisted content after a
// peer's save. The local editor is the one asked to decide on a
// divergence: only it knows whether its content is intentional.
func (c *Controller) reconcile(ctx context.Context) {
	c.mu.Lock()
	cur := c.cur
	if cur == nil {
		c.mu.Unlock()
		return
	}
	noteID := cur.noteID
	c.mu.Unlock()

	n, err := c.store.GetNote(ctx, noteID)
	if err != nil {
		slog.Warn("reconcile fetch failed", "err", err, "note", noteID)
		return
	}

	c.mu.Lock()
	cur = c.cur
	if cur == nil || cur.noteID != noteID {
		c.mu.Unlock()
		return
	}
	if cur.justCleared {
		cur.justCleared = false
		c.mu.Unlock()
		return
	}
	local := cur.doc
	if local == n.Content {
		c.mu.Unlock()
		return
	}
	if local == "" {
		// nothing to lose, adopt silently
		cur.doc = n.Content
		cur.title = n.Title
		c.mu.Unlock()
		c.view.ContentReplaced(n.Content)
		return
	}
	c.mu.Unlock()

	// genuine divergence: ask the user. Remote deltas keep applying
	// while the prompt is up; it concerns save-time divergence only.
	decision := c.resolver.Resolve(ctx, n.Content, local)
	metrics.ConflictDecisions.WithLabelValues(decision.String()).Inc()

	switch decision {
	case Overwrite:
		c.adoptResolved(noteID, n.Content)
	case MergeKeepBoth:
		c.adoptResolved(noteID, Merge(n.Content, local))
	case Cancel:
		// dirty and diverged until the next save attempt
	}
}

// adoptResolved replaces the local document with the resolved content.
// Peers get a clear_buffer first and then the content as ordinary deltas
// from empty, so every editor converges on the resolved text.
func (c *Controller) adoptResolved(noteID, content string) {
	c.mu.Lock()
	cur := c.cur
	if cur == nil || cur.noteID != noteID {
		c.mu.Unlock()
		return
	}

	c.peer.Publish(event.Event{Kind: event.ClearBuffer, NoteID: noteID})
	cur.doc = ""
	cur.lastApplied = ""
	cur.justCleared = true

	ops := delta.Diff("", content)
	enc, err := delta.Encode(ops)
	if err != nil {
		c.mu.Unlock()
		slog.Error("encode resolved delta", "err", err)
		return
	}
	c.localEditLocked(enc, content)
	c.mu.Unlock()

	c.view.ContentReplaced(content)
}
