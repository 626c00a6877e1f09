// Package session implements the collaborative note protocol: one
// Controller per connected client, holding at most one open note at a
// time and keeping it in sync with peers over a notes channel.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opencase/notesync/internal/channel"
	"github.com/opencase/notesync/internal/delta"
	"github.com/opencase/notesync/internal/event"
	"github.com/opencase/notesync/internal/store"
)

const (
	DefaultTypingIdle        = 1500 * time.Millisecond
	DefaultAutosaveDelay     = 10 * time.Second
	DefaultHeartbeatInterval = 2 * time.Second
	DefaultPingThreshold     = 2 * time.Second
)

var ErrNoOpenNote = errors.New("session: no open note")

type Config struct {
	// Scope is the note collection this client collaborates on; the
	// channel name is "<scope>-notes".
	Scope string

	// User is the display label used for presence, attribution and the
	// "saved by" indicator.
	User string

	TypingIdle        time.Duration
	AutosaveDelay     time.Duration
	HeartbeatInterval time.Duration
	PingThreshold     time.Duration
}

func (c Config) withDefaults() Config {
	if c.TypingIdle == 0 {
		c.TypingIdle = DefaultTypingIdle
	}
	if c.AutosaveDelay == 0 {
		c.AutosaveDelay = DefaultAutosaveDelay
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.PingThreshold == 0 {
		c.PingThreshold = DefaultPingThreshold
	}
	return c
}

// current is the state of the open note editing session.
type current struct {
	noteID string
	title  string
	doc    string

	// lastApplied is the serialized form of the last remote-applied
	// delta. The editor surface fires a change event for programmatic
	// edits too; comparing against this marker keeps a remote delta from
	// re-entering the local edit path and being rebroadcast.
	lastApplied string

	// justCleared suppresses the conflict prompt on the reconciliation
	// right after a forced buffer clear.
	justCleared bool

	subs []*channel.Subscription
}

// Controller orchestrates the note editing session lifecycle and owns
// the presence tracker, heartbeat monitor, change broadcasting and save
// coordination for the open note.
type Controller struct {
	cfg      Config
	store    store.Store
	resolver Resolver
	view     View
	peer     channel.Peer
	hb       *heartbeat

	mu            sync.Mutex
	cur           *current
	pres          *presence
	typingTimer   *time.Timer
	autosaveTimer *time.Timer
}

func New(cfg Config, reg channel.Registry, st store.Store, res Resolver, view View) *Controller {
	if view == nil {
		view = NopView{}
	}
	if res == nil {
		res = ResolverFunc(func(context.Context, string, string) Decision { return Cancel })
	}
	c := &Controller{
		cfg:      cfg.withDefaults(),
		store:    st,
		resolver: res,
		view:     view,
		pres:     newPresence(),
	}
	c.peer = reg.Notes(cfg.Scope).Join(cfg.User)
	c.hb = newHeartbeat(c.cfg.HeartbeatInterval, c.cfg.PingThreshold, c.emitPing)
	return c
}

// OpenNote fetches the note, tears down the previous session's channel
// subscriptions, binds a fresh session and announces the join. A fetch
// failure leaves no session open.
func (c *Controller) OpenNote(ctx context.Context, noteID string) error {
	n, err := c.store.GetNote(ctx, noteID)
	if err != nil {
		c.CloseNote()
		return fmt.Errorf("open note %s: %w", noteID, err)
	}

	c.mu.Lock()
	c.teardownLocked()
	c.cur = &current{noteID: noteID, title: n.Title, doc: n.Content}
	c.pres = newPresence()
	c.subscribeLocked()
	c.mu.Unlock()

	c.view.ContentReplaced(n.Content)

	c.peer.Publish(event.Event{Kind: event.Join, NoteID: noteID})
	c.hb.start()
	c.hb.pingNow()
	return nil
}

// CloseNote announces the leave and clears all local session state.
func (c *Controller) CloseNote() {
	c.mu.Lock()
	cur := c.cur
	if cur == nil {
		c.mu.Unlock()
		return
	}
	noteID := cur.noteID
	c.teardownLocked()
	c.cur = nil
	c.pres = newPresence()
	c.mu.Unlock()

	c.hb.halt()
	c.peer.Publish(event.Event{Kind: event.Leave, UserID: c.cfg.User, NoteID: noteID})
}

// Close shuts the controller down, leaving the channel entirely.
func (c *Controller) Close() {
	c.CloseNote()
	c.peer.Close()
}

// teardownLocked cancels exactly the subscriptions and timers belonging
// to the previous session, so a late event from a closed session can
// never mutate a newly opened one.
func (c *Controller) teardownLocked() {
	if c.cur != nil {
		for _, s := range c.cur.subs {
			s.Cancel()
		}
		c.cur.subs = nil
	}
	c.stopTimersLocked()
}

func (c *Controller) stopTimersLocked() {
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
	if c.autosaveTimer != nil {
		c.autosaveTimer.Stop()
		c.autosaveTimer = nil
	}
}

func (c *Controller) subscribeLocked() {
	sub := func(kind event.Kind, fn channel.Handler) {
		c.cur.subs = append(c.cur.subs, c.peer.Subscribe(kind, fn))
	}
	sub(event.Join, c.onJoin)
	sub(event.Leave, c.onLeave)
	sub(event.Ping, c.onPing)
	sub(event.Pong, c.onPong)
	sub(event.Change, c.onChange)
	sub(event.ClearBuffer, c.onClearBuffer)
	sub(event.Save, c.onPeerSave)
	sub(event.Disconnect, c.onDisconnect)
}

// NoteID returns the id of the open note, or "".
func (c *Controller) NoteID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return ""
	}
	return c.cur.noteID
}

// Content returns the local document content.
func (c *Controller) Content() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return ""
	}
	return c.cur.doc
}

// SetTitle records a pending title rename; it propagates on the next
// save.
func (c *Controller) SetTitle(title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != nil {
		c.cur.title = title
	}
}

// Viewers returns the presence set for the open note in insertion
// order. Entries are created by received pings, so the local user is not
// listed; the view layer prepends itself when rendering.
func (c *Controller) Viewers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pres.viewers()
}

// SetContent is the editing-surface entry point for local edits: it
// diffs the new text against the document and runs the local edit path.
func (c *Controller) SetContent(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.cur
	if cur == nil {
		return
	}
	ops := delta.Diff(cur.doc, text)
	if len(ops) == 0 {
		return
	}
	enc, err := delta.Encode(ops)
	if err != nil {
		slog.Error("encode delta", "err", err)
		return
	}
	c.localEditLocked(enc, text)
}

// OnEditorChange is for surfaces that report change events directly,
// including ones caused by programmatic edits. A change matching the
// last remote-applied delta is the echo of that application and is
// dropped instead of rebroadcast.
func (c *Controller) OnEditorChange(ops []delta.Op) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.cur
	if cur == nil || len(ops) == 0 {
		return
	}
	enc, err := delta.Encode(ops)
	if err != nil {
		slog.Error("encode delta", "err", err)
		return
	}
	if string(enc) == cur.lastApplied {
		cur.lastApplied = ""
		return
	}
	c.localEditLocked(enc, delta.Apply(cur.doc, ops))
}

// localEditLocked broadcasts the delta and restarts the typing-idle and
// autosave timers.
func (c *Controller) localEditLocked(enc json.RawMessage, text string) {
	cur := c.cur
	cur.doc = text

	c.peer.Publish(event.Event{Kind: event.Change, NoteID: cur.noteID, Delta: enc})
	c.restartTypingTimerLocked()
	c.restartAutosaveLocked()
}

func (c *Controller) restartTypingTimerLocked() {
	if c.typingTimer != nil {
		c.typingTimer.Stop()
	}
	c.typingTimer = time.AfterFunc(c.cfg.TypingIdle, func() {
		c.view.TypingIndicator("", false)
	})
}

// restartAutosaveLocked debounces the idle autosave. With a crowd on the
// note, idle autosave stays off and saves are left to the collaborators
// actually editing, so the conflict prompt fires at a moment a user
// chose.
func (c *Controller) restartAutosaveLocked() {
	if c.autosaveTimer != nil {
		c.autosaveTimer.Stop()
		c.autosaveTimer = nil
	}
	if c.pres.count() > 1 {
		return
	}
	c.autosaveTimer = time.AfterFunc(c.cfg.AutosaveDelay, func() {
		if err := c.Save(context.Background()); err != nil {
			slog.Warn("autosave failed", "err", err)
		}
	})
}

// emitPing is the heartbeat beat: publish a liveness ping for the open
// note.
func (c *Controller) emitPing() {
	c.mu.Lock()
	cur := c.cur
	if cur == nil {
		c.mu.Unlock()
		return
	}
	noteID := cur.noteID
	c.mu.Unlock()

	c.peer.Publish(event.Event{Kind: event.Ping, NoteID: noteID})
}

func (c *Controller) onPing(ev event.Event) {
	c.mu.Lock()
	cur := c.cur
	if cur == nil {
		c.mu.Unlock()
		return
	}
	noteID := cur.noteID
	c.mu.Unlock()

	// reply addressed to the sender, not a broadcast
	c.peer.Publish(event.Event{Kind: event.Pong, NoteID: noteID, To: ev.UserID})
	c.refreshPresence(ev.UserID, ev.NoteID)
}

func (c *Controller) onPong(ev event.Event) {
	if ev.To != "" && ev.To != c.cfg.User {
		return
	}
	c.refreshPresence(ev.UserID, ev.NoteID)
}

func (c *Controller) refreshPresence(user, noteID string) {
	c.mu.Lock()
	if c.cur == nil || user == "" || noteID != c.cur.noteID {
		c.mu.Unlock()
		return
	}
	changed := c.pres.recordPing(user)
	viewers := c.pres.viewers()
	c.mu.Unlock()

	if changed {
		c.view.PresenceChanged(viewers)
	}
}

// onJoin answers a newcomer with a throttled immediate ping so they see
// the existing viewers without waiting a full heartbeat tick.
func (c *Controller) onJoin(ev event.Event) {
	c.hb.pingNow()
}

func (c *Controller) onLeave(ev event.Event) {
	c.dropViewer(ev.UserID)
}

func (c *Controller) onDisconnect(ev event.Event) {
	c.dropViewer(ev.UserID)
}

func (c *Controller) dropViewer(user string) {
	c.mu.Lock()
	if c.cur == nil {
		c.mu.Unlock()
		return
	}
	changed := c.pres.recordLeave(user)
	viewers := c.pres.viewers()
	c.mu.Unlock()

	if changed {
		c.view.PresenceChanged(viewers)
	}
}

func (c *Controller) onChange(ev event.Event) {
	c.mu.Lock()
	cur := c.cur
	if cur == nil || ev.NoteID != cur.noteID {
		c.mu.Unlock()
		return
	}
	ops, err := delta.Decode(ev.Delta)
	if err != nil {
		c.mu.Unlock()
		slog.Error("decode remote delta", "err", err, "note", ev.NoteID)
		return
	}
	enc, err := delta.Encode(ops)
	if err != nil {
		c.mu.Unlock()
		slog.Error("encode remote delta", "err", err)
		return
	}
	cur.lastApplied = string(enc)
	cur.doc = delta.Apply(cur.doc, ops)
	doc := cur.doc
	c.restartTypingTimerLocked()
	c.mu.Unlock()

	c.view.ContentReplaced(doc)
	if ev.UserID != "" {
		c.view.TypingIndicator(ev.UserID, true)
	}
}

// onClearBuffer discards all local content. It wins over any pending
// local timer and arms justCleared so the next reconciliation does not
// read the reset as a fresh conflict.
func (c *Controller) onClearBuffer(ev event.Event) {
	c.mu.Lock()
	cur := c.cur
	if cur == nil || ev.NoteID != cur.noteID {
		c.mu.Unlock()
		return
	}
	c.stopTimersLocked()
	cur.doc = ""
	cur.lastApplied = ""
	cur.justCleared = true
	c.mu.Unlock()

	c.view.ContentReplaced("")
}
