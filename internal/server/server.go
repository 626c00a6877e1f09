// Package server exposes the collaboration fabric to remote clients: a
// websocket relay that bridges connections onto registry channels, and a
// small REST surface for note/revision persistence.
package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opencase/notesync/internal/channel"
	"github.com/opencase/notesync/internal/metrics"
	"github.com/opencase/notesync/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Server struct {
	reg channel.Registry
	st  store.Store
}

func New(reg channel.Registry, st store.Store) *Server {
	return &Server{reg: reg, st: st}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/ws/{scope}", s.ws)
	r.HandleFunc("/api/notes/{id}", s.getNote).Methods("GET")
	r.HandleFunc("/api/notes/{id}", s.putNote).Methods("PUT")
	r.HandleFunc("/api/notes/{id}/revisions", s.listRevisions).Methods("GET")
	r.HandleFunc("/api/notes/{id}/revisions/{n}", s.getRevision).Methods("GET")
	r.HandleFunc("/api/notes/{id}/revisions/{n}", s.deleteRevision).Methods("DELETE")
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// ws upgrades the connection and relays events between the websocket and
// the scope's notes channel until the client drops.
func (s *Server) ws(w http.ResponseWriter, r *http.Request) {
	scope := mux.Vars(r)["scope"]
	user := r.URL.Query().Get("user")
	if user == "" {
		http.Error(w, "missing user", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade", "err", err)
		return
	}

	c := newClient(s.reg.Notes(scope).Join(user), conn)
	slog.Info("client connected", "scope", scope, "user", user)
	metrics.ConnectedClients.Inc()

	c.relay()

	metrics.ConnectedClients.Dec()
	slog.Info("client disconnected", "scope", scope, "user", user)
}
