package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"

	"github.com/opencase/notesync/internal/channel"
	"github.com/opencase/notesync/internal/event"
	"github.com/opencase/notesync/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()

	st := store.NewMemory()
	ts := httptest.NewServer(New(channel.NewRegistry(), st).Router())
	t.Cleanup(ts.Close)
	return ts, st
}

func dial(t *testing.T, ts *httptest.Server, scope, user string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/" + scope + "?user=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) event.Event {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev event.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	return ev
}

func TestRelayFansOutToOtherClients(t *testing.T) {
	ts, _ := newTestServer(t)

	a := dial(t, ts, "case7", "alice")
	b := dial(t, ts, "case7", "bob")
	time.Sleep(50 * time.Millisecond) // let both peers join

	err := a.WriteJSON(event.Event{Kind: event.Change, NoteID: "5", Delta: json.RawMessage(`[]`)})
	assert.Equal(t, nil, err)

	ev := readEvent(t, b)
	assert.Equal(t, event.Change, ev.Kind)
	assert.Equal(t, "5", ev.NoteID)
	assert.Equal(t, "alice", ev.UserID)
	assert.Equal(t, "case7-notes", ev.Channel)
}

func TestRelayScopesAreIsolated(t *testing.T) {
	ts, _ := newTestServer(t)

	a := dial(t, ts, "case7", "alice")
	b := dial(t, ts, "case8", "bob")
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, nil, a.WriteJSON(event.Event{Kind: event.Ping, NoteID: "1"}))

	b.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var ev event.Event
	assert.NotEqual(t, b.ReadJSON(&ev), nil) // times out, nothing crossed scopes
}

func TestRelayAnnouncesDisconnect(t *testing.T) {
	ts, _ := newTestServer(t)

	a := dial(t, ts, "case7", "alice")
	b := dial(t, ts, "case7", "bob")
	time.Sleep(50 * time.Millisecond)

	a.Close()

	ev := readEvent(t, b)
	assert.Equal(t, event.Disconnect, ev.Kind)
	assert.Equal(t, "alice", ev.UserID)
}

func TestRelayRequiresUser(t *testing.T) {
	ts, _ := newTestServer(t)

	res, err := http.Get(ts.URL + "/ws/case7")
	assert.Equal(t, nil, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestNoteAPIRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t)

	body, _ := json.Marshal(persistRequest{Title: "minutes", Content: "hello", SavedBy: "alice"})
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/notes/5", bytes.NewReader(body))
	res, err := http.DefaultClient.Do(req)
	assert.Equal(t, nil, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	res, err = http.Get(ts.URL + "/api/notes/5")
	assert.Equal(t, nil, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	var n noteResponse
	assert.Equal(t, nil, json.NewDecoder(res.Body).Decode(&n))
	assert.Equal(t, "minutes", n.Title)
	assert.Equal(t, "hello", n.Content)
	assert.Equal(t, 1, n.Revision)
	assert.Equal(t, "alice", n.SavedBy)
}

func TestNoteAPINotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	res, err := http.Get(ts.URL + "/api/notes/missing")
	assert.Equal(t, nil, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestRevisionAPI(t *testing.T) {
	ts, st := newTestServer(t)
	ctx := context.Background()

	assert.Equal(t, nil, st.PersistNote(ctx, "5", "t", "v1", "alice"))
	assert.Equal(t, nil, st.PersistNote(ctx, "5", "t", "v2", "bob"))

	res, err := http.Get(ts.URL + "/api/notes/5/revisions")
	assert.Equal(t, nil, err)
	var revs []revisionResponse
	assert.Equal(t, nil, json.NewDecoder(res.Body).Decode(&revs))
	res.Body.Close()
	assert.Equal(t, 1, len(revs))
	assert.Equal(t, "v1", revs[0].Content)

	res, err = http.Get(ts.URL + "/api/notes/5/revisions/1")
	assert.Equal(t, nil, err)
	var rev revisionResponse
	assert.Equal(t, nil, json.NewDecoder(res.Body).Decode(&rev))
	res.Body.Close()
	assert.Equal(t, "v1", rev.Content)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/notes/5/revisions/1", nil)
	res, err = http.DefaultClient.Do(req)
	assert.Equal(t, nil, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	res, err = http.Get(ts.URL + "/api/notes/5/revisions/1")
	assert.Equal(t, nil, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}
