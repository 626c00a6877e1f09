package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/opencase/notesync/internal/channel"
	"github.com/opencase/notesync/internal/delta"
	"github.com/opencase/notesync/internal/event"
	"github.com/opencase/notesync/internal/store"
)

const testScope = "case7"

type env struct {
	reg *channel.MemoryRegistry
	ch  *channel.MemoryChannel
	st  *store.Memory
}

func newEnv(t *testing.T, notes map[string]string) *env {
	t.Helper()

	reg := channel.NewRegistry()
	st := store.NewMemory()
	for id, content := range notes {
		if err := st.PersistNote(context.Background(), id, "t-"+id, content, "seed"); err != nil {
			t.Fatal(err)
		}
	}
	return &env{
		reg: reg,
		ch:  reg.Notes(testScope).(*channel.MemoryChannel),
		st:  st,
	}
}

func (e *env) controller(user string, res Resolver, view View) *Controller {
	if res == nil {
		res = ResolverFunc(func(context.Context, string, string) Decision { return Cancel })
	}
	cfg := Config{
		Scope:             testScope,
		User:              user,
		TypingIdle:        15 * time.Millisecond,
		AutosaveDelay:     40 * time.Millisecond,
		HeartbeatInterval: time.Hour,
		PingThreshold:     time.Millisecond,
	}
	return New(cfg, e.reg, e.st, res, view)
}

// spy joins the channel as a bare peer and records what it receives.
type spy struct {
	peer   channel.Peer
	mu     sync.Mutex
	byKind map[event.Kind][]event.Event
}

func newSpy(e *env, user string) *spy {
	s := &spy{peer: e.ch.Join(user), byKind: make(map[event.Kind][]event.Event)}
	s.peer.Subscribe(channel.Any, func(ev event.Event) {
		s.mu.Lock()
		s.byKind[ev.Kind] = append(s.byKind[ev.Kind], ev)
		s.mu.Unlock()
	})
	return s
}

func (s *spy) count(kind event.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKind[kind])
}

type recView struct {
	NopView

	mu       sync.Mutex
	contents []string
	statuses []SaveStatus
	savedBy  []string
	typing   []string
}

func (v *recView) ContentReplaced(content string) {
	v.mu.Lock()
	v.contents = append(v.contents, content)
	v.mu.Unlock()
}

func (v *recView) SaveStatusChanged(status SaveStatus, by string) {
	v.mu.Lock()
	v.statuses = append(v.statuses, status)
	v.savedBy = append(v.savedBy, by)
	v.mu.Unlock()
}

func (v *recView) TypingIndicator(author string, active bool) {
	v.mu.Lock()
	if active {
		v.typing = append(v.typing, author)
	}
	v.mu.Unlock()
}

func (v *recView) lastStatus() (SaveStatus, string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.statuses) == 0 {
		return -1, ""
	}
	return v.statuses[len(v.statuses)-1], v.savedBy[len(v.savedBy)-1]
}

func TestOpenNoteFetchFailure(t *testing.T) {
	e := newEnv(t, nil)
	c := e.controller("alice", nil, nil)
	defer c.Close()

	err := c.OpenNote(context.Background(), "missing")
	assert.Equal(t, true, errors.Is(err, store.ErrNotFound))
	assert.Equal(t, "", c.NoteID())
}

func TestRemoteDeltaAppliesWithAttribution(t *testing.T) {
	e := newEnv(t, map[string]string{"5": "hello"})
	view := &recView{}
	c := e.controller("alice", nil, view)
	defer c.Close()

	assert.Equal(t, nil, c.OpenNote(context.Background(), "5"))
	s := newSpy(e, "bob")

	ops := delta.Diff("hello", "hello world")
	enc, _ := delta.Encode(ops)
	s.peer.Publish(event.Event{Kind: event.Change, NoteID: "5", Delta: enc})
	e.ch.Settle()

	assert.Equal(t, "hello world", c.Content())

	view.mu.Lock()
	defer view.mu.Unlock()
	assert.Equal(t, "hello world", view.contents[len(view.contents)-1])
	assert.Equal(t, []string{"bob"}, view.typing)
}

func TestRemoteDeltaForOtherNoteIgnored(t *testing.T) {
	e := newEnv(t, map[string]string{"5": "hello"})
	c := e.controller("alice", nil, nil)
	defer c.Close()
	assert.Equal(t, nil, c.OpenNote(context.Background(), "5"))

	s := newSpy(e, "bob")
	enc, _ := delta.Encode(delta.Diff("hello", "bye"))
	s.peer.Publish(event.Event{Kind: event.Change, NoteID: "99", Delta: enc})
	e.ch.Settle()

	assert.Equal(t, "hello", c.Content())
}

// Applying a remote delta must not re-enter the local edit path when the
// editor surface echoes the programmatic change back.
func TestEchoIsNotRebroadcast(t *testing.T) {
	e := newEnv(t, map[string]string{"5": "hello"})
	c := e.controller("alice", nil, nil)
	defer c.Close()
	assert.Equal(t, nil, c.OpenNote(context.Background(), "5"))

	s := newSpy(e, "bob")

	ops := delta.Diff("hello", "hellos")
	enc, _ := delta.Encode(ops)
	s.peer.Publish(event.Event{Kind: event.Change, NoteID: "5", Delta: enc})
	e.ch.Settle()
	assert.Equal(t, "hellos", c.Content())

	// the surface reports the programmatic change; the marker guard
	// swallows it
	c.OnEditorChange(ops)
	e.ch.Settle()
	assert.Equal(t, 0, s.count(event.Change))
	assert.Equal(t, "hellos", c.Content())

	// a genuine local edit still broadcasts
	c.SetContent("hellos!")
	e.ch.Settle()
	assert.Equal(t, 1, s.count(event.Change))
}

func TestSwitchingNotesLeavesNoResidualSubscriptions(t *testing.T) {
	e := newEnv(t, map[string]string{"1": "a", "2": "b"})
	c := e.controller("alice", nil, nil)
	defer c.Close()

	assert.Equal(t, nil, c.OpenNote(context.Background(), "1"))
	assert.Equal(t, nil, c.OpenNote(context.Background(), "2"))

	s := newSpy(e, "bob")
	enc, _ := delta.Encode(delta.Diff("a", "ax"))
	s.peer.Publish(event.Event{Kind: event.Change, NoteID: "1", Delta: enc})
	e.ch.Settle()

	// nothing handled the stale-note event
	assert.Equal(t, "b", c.Content())
}

func TestReopeningDoesNotDuplicateHandlers(t *testing.T) {
	e := newEnv(t, map[string]string{"1": "a"})
	c := e.controller("alice", nil, nil)
	defer c.Close()

	assert.Equal(t, nil, c.OpenNote(context.Background(), "1"))
	assert.Equal(t, nil, c.OpenNote(context.Background(), "1"))

	s := newSpy(e, "bob")
	enc, _ := delta.Encode(delta.Diff("a", "ax"))
	s.peer.Publish(event.Event{Kind: event.Change, NoteID: "1", Delta: enc})
	e.ch.Settle()

	// applied exactly once
	assert.Equal(t, "ax", c.Content())
}

func TestPresenceThroughPingPong(t *testing.T) {
	e := newEnv(t, map[string]string{"5": "hello"})
	a := e.controller("alice", nil, nil)
	b := e.controller("bob", nil, nil)
	defer a.Close()
	defer b.Close()

	assert.Equal(t, nil, a.OpenNote(context.Background(), "5"))
	assert.Equal(t, nil, b.OpenNote(context.Background(), "5"))
	e.ch.Settle()

	assert.Equal(t, []string{"bob"}, a.Viewers())
	assert.Equal(t, []string{"alice"}, b.Viewers())

	b.CloseNote()
	e.ch.Settle()
	assert.Equal(t, []string{}, a.Viewers())
}

func TestDisconnectEvictsViewer(t *testing.T) {
	e := newEnv(t, map[string]string{"5": "hello"})
	a := e.controller("alice", nil, nil)
	b := e.controller("bob", nil, nil)
	defer a.Close()

	assert.Equal(t, nil, a.OpenNote(context.Background(), "5"))
	assert.Equal(t, nil, b.OpenNote(context.Background(), "5"))
	e.ch.Settle()
	assert.Equal(t, []string{"bob"}, a.Viewers())

	b.Close() // drops the peer, which announces the disconnect
	e.ch.Settle()
	assert.Equal(t, []string{}, a.Viewers())
}

func TestSaveAnnouncesAndReconcileIsNoopWhenEqual(t *testing.T) {
	e := newEnv(t, map[string]string{"5": "hello"})

	var prompts int32
	res := ResolverFunc(func(context.Context, string, string) Decision {
		atomic.AddInt32(&prompts, 1)
		return Cancel
	})

	a := e.controller("alice", nil, nil)
	b := e.controller("bob", res, nil)
	defer a.Close()
	defer b.Close()

	assert.Equal(t, nil, a.OpenNote(context.Background(), "5"))
	assert.Equal(t, nil, b.OpenNote(context.Background(), "5"))
	e.ch.Settle()

	assert.Equal(t, nil, a.Save(context.Background()))
	e.ch.Settle()
	time.Sleep(30 * time.Millisecond) // reconcile runs off the delivery goroutine

	assert.Equal(t, int32(0), atomic.LoadInt32(&prompts))
	assert.Equal(t, "hello", b.Content())
}

func TestReconcileAdoptsWhenLocalEmpty(t *testing.T) {
	e := newEnv(t, map[string]string{"6": ""})

	var prompts int32
	res := ResolverFunc(func(context.Context, string, string) Decision {
		atomic.AddInt32(&prompts, 1)
		return Cancel
	})
	b := e.controller("bob", res, nil)
	defer b.Close()
	assert.Equal(t, nil, b.OpenNote(context.Background(), "6"))

	s := newSpy(e, "alice")
	assert.Equal(t, nil, e.st.PersistNote(context.Background(), "6", "t-6", "fresh content", "alice"))
	s.peer.Publish(event.Event{Kind: event.Save, NoteID: "6", SavedBy: "alice"})
	e.ch.Settle()
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, "fresh content", b.Content())
	assert.Equal(t, int32(0), atomic.LoadInt32(&prompts))
}

func TestReconcileConflictOverwrite(t *testing.T) {
	e := newEnv(t, map[string]string{"7": "hello"})

	var gotRemote, gotLocal string
	res := ResolverFunc(func(_ context.Context, remote, local string) Decision {
		gotRemote, gotLocal = remote, local
		return Overwrite
	})
	b := e.controller("bob", res, nil)
	defer b.Close()
	assert.Equal(t, nil, b.OpenNote(context.Background(), "7"))

	b.SetContent("hello local")

	s := newSpy(e, "alice")
	assert.Equal(t, nil, e.st.PersistNote(context.Background(), "7", "t-7", "hello world", "alice"))
	s.peer.Publish(event.Event{Kind: event.Save, NoteID: "7", SavedBy: "alice"})
	e.ch.Settle()
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, "hello world", gotRemote)
	assert.Equal(t, "hello local", gotLocal)
	assert.Equal(t, "hello world", b.Content())

	// peers are reset and rebuilt so everyone converges
	e.ch.Settle()
	assert.Equal(t, 1, s.count(event.ClearBuffer))
}

func TestReconcileConflictMergeKeepBoth(t *testing.T) {
	e := newEnv(t, map[string]string{"8": "draft"})

	res := ResolverFunc(func(_ context.Context, remote, local string) Decision {
		return MergeKeepBoth
	})
	a := e.controller("alice", res, nil)
	defer a.Close()
	assert.Equal(t, nil, a.OpenNote(context.Background(), "8"))

	a.SetContent("draft A")
	assert.Equal(t, nil, a.Save(context.Background()))

	// bob saved "draft B" over it without ever reconciling; saves only
	// reconcile on the receiving side
	s := newSpy(e, "bob")
	assert.Equal(t, nil, e.st.PersistNote(context.Background(), "8", "t-8", "draft B", "bob"))
	s.peer.Publish(event.Event{Kind: event.Save, NoteID: "8", SavedBy: "bob"})
	e.ch.Settle()
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, "draft B\n\n------- MERGED CONTENT -------\n\ndraft A", a.Content())
}

func TestReconcileCancelKeepsLocal(t *testing.T) {
	e := newEnv(t, map[string]string{"9": "base"})

	b := e.controller("bob", nil, nil) // default resolver cancels
	defer b.Close()
	assert.Equal(t, nil, b.OpenNote(context.Background(), "9"))
	b.SetContent("base local")

	s := newSpy(e, "alice")
	assert.Equal(t, nil, e.st.PersistNote(context.Background(), "9", "t-9", "base remote", "alice"))
	s.peer.Publish(event.Event{Kind: event.Save, NoteID: "9", SavedBy: "alice"})
	e.ch.Settle()
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, "base local", b.Content())
}

func TestClearBufferSuppressesNextReconcile(t *testing.T) {
	e := newEnv(t, map[string]string{"10": "abc"})

	var prompts int32
	res := ResolverFunc(func(context.Context, string, string) Decision {
		atomic.AddInt32(&prompts, 1)
		return Overwrite
	})
	b := e.controller("bob", res, nil)
	defer b.Close()
	assert.Equal(t, nil, b.OpenNote(context.Background(), "10"))

	s := newSpy(e, "alice")
	s.peer.Publish(event.Event{Kind: event.ClearBuffer, NoteID: "10"})
	e.ch.Settle()
	assert.Equal(t, "", b.Content())

	// remote starts rebuilding; the local doc is mid-reset, so the
	// mismatch right after the clear must not prompt
	enc, _ := delta.Encode(delta.Diff("", "rebuilt"))
	s.peer.Publish(event.Event{Kind: event.Change, NoteID: "10", Delta: enc})
	s.peer.Publish(event.Event{Kind: event.Save, NoteID: "10", SavedBy: "alice"})
	e.ch.Settle()
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, int32(0), atomic.LoadInt32(&prompts))
	assert.Equal(t, "rebuilt", b.Content())
}

func TestAutosaveFiresWhenAlone(t *testing.T) {
	e := newEnv(t, map[string]string{"5": "hello"})
	view := &recView{}
	a := e.controller("alice", nil, view)
	defer a.Close()
	assert.Equal(t, nil, a.OpenNote(context.Background(), "5"))

	a.SetContent("hello world")
	time.Sleep(100 * time.Millisecond)

	n, err := e.st.GetNote(context.Background(), "5")
	assert.Equal(t, nil, err)
	assert.Equal(t, "hello world", n.Content)
	assert.Equal(t, "alice", n.SavedBy)

	status, by := view.lastStatus()
	assert.Equal(t, StatusSaved, status)
	assert.Equal(t, "alice", by)
}

// One collaborator present still allows the active editor's idle
// autosave; a crowd suppresses it.
func TestAutosaveSuppressedByCrowd(t *testing.T) {
	e := newEnv(t, map[string]string{"5": "hello"})
	a := e.controller("alice", nil, nil)
	b := e.controller("bob", nil, nil)
	c := e.controller("carol", nil, nil)
	defer a.Close()
	defer b.Close()
	defer c.Close()

	assert.Equal(t, nil, a.OpenNote(context.Background(), "5"))
	assert.Equal(t, nil, b.OpenNote(context.Background(), "5"))
	assert.Equal(t, nil, c.OpenNote(context.Background(), "5"))
	e.ch.Settle()
	assert.Equal(t, 2, len(a.Viewers()))

	a.SetContent("hello crowd")
	time.Sleep(100 * time.Millisecond)

	n, err := e.st.GetNote(context.Background(), "5")
	assert.Equal(t, nil, err)
	assert.Equal(t, "hello", n.Content) // untouched, no autosave
}

func TestAutosaveWithSingleCollaborator(t *testing.T) {
	e := newEnv(t, map[string]string{"5": "hello"})
	a := e.controller("alice", nil, nil)
	b := e.controller("bob", nil, nil)
	defer a.Close()
	defer b.Close()

	assert.Equal(t, nil, a.OpenNote(context.Background(), "5"))
	assert.Equal(t, nil, b.OpenNote(context.Background(), "5"))
	e.ch.Settle()
	assert.Equal(t, []string{"bob"}, a.Viewers())

	a.SetContent("hello world")
	time.Sleep(100 * time.Millisecond)

	n, err := e.st.GetNote(context.Background(), "5")
	assert.Equal(t, nil, err)
	assert.Equal(t, "hello world", n.Content)
}

type failingStore struct {
	*store.Memory
}

func (f failingStore) PersistNote(context.Context, string, string, string, string) error {
	return errors.New("disk on fire")
}

func TestSaveFailureKeepsContent(t *testing.T) {
	e := newEnv(t, map[string]string{"5": "hello"})
	view := &recView{}

	cfg := Config{Scope: testScope, User: "alice", HeartbeatInterval: time.Hour, PingThreshold: time.Millisecond}
	c := New(cfg, e.reg, failingStore{e.st}, nil, view)
	defer c.Close()

	assert.Equal(t, nil, c.OpenNote(context.Background(), "5"))
	c.SetContent("hello world")

	err := c.Save(context.Background())
	assert.NotEqual(t, err, nil)
	assert.Equal(t, "hello world", c.Content())

	status, _ := view.lastStatus()
	assert.Equal(t, StatusSaveFailed, status)
}

func TestSaveWithoutOpenNote(t *testing.T) {
	e := newEnv(t, nil)
	c := e.controller("alice", nil, nil)
	defer c.Close()

	assert.Equal(t, true, errors.Is(c.Save(context.Background()), ErrNoOpenNote))
}
