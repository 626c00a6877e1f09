package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/opencase/notesync/internal/store"
)

type noteResponse struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Content  string    `json:"content"`
	Revision int       `json:"revision"`
	SavedBy  string    `json:"savedBy"`
	SavedAt  time.Time `json:"savedAt"`
}

type revisionResponse struct {
	N       int       `json:"n"`
	Title   string    `json:"title"`
	Content string    `json:"content"`
	SavedAt time.Time `json:"savedAt"`
}

type persistRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	SavedBy string `json:"savedBy"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "err", err)
	}
}

func storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	slog.Error("store operation failed", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func (s *Server) getNote(w http.ResponseWriter, r *http.Request) {
	n, err := s.st.GetNote(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, noteResponse{
		ID:       n.ID,
		Title:    n.Title,
		Content:  n.Content,
		Revision: n.Revision,
		SavedBy:  n.SavedBy,
		SavedAt:  n.SavedAt,
	})
}

func (s *Server) putNote(w http.ResponseWriter, r *http.Request) {
	var req persistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad format", http.StatusBadRequest)
		return
	}

	id := mux.Vars(r)["id"]
	if err := s.st.PersistNote(r.Context(), id, req.Title, req.Content, req.SavedBy); err != nil {
		storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listRevisions(w http.ResponseWriter, r *http.Request) {
	revs, err := s.st.ListRevisions(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		storeError(w, err)
		return
	}

	out := make([]revisionResponse, 0, len(revs))
	for _, rev := range revs {
		out = append(out, revisionResponse{
			N:       rev.N,
			Title:   rev.Title,
			Content: rev.Content,
			SavedAt: rev.SavedAt,
		})
	}
	writeJSON(w, out)
}

func revisionVars(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	vars := mux.Vars(r)
	n, err := strconv.Atoi(vars["n"])
	if err != nil {
		http.Error(w, "malformed revision number", http.StatusBadRequest)
		return "", 0, false
	}
	return vars["id"], n, true
}

func (s *Server) getRevision(w http.ResponseWriter, r *http.Request) {
	id, n, ok := revisionVars(w, r)
	if !ok {
		return
	}
	rev, err := s.st.GetRevision(r.Context(), id, n)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, revisionResponse{
		N:       rev.N,
		Title:   rev.Title,
		Content: rev.Content,
		SavedAt: rev.SavedAt,
	})
}

func (s *Server) deleteRevision(w http.ResponseWriter, r *http.Request) {
	id, n, ok := revisionVars(w, r)
	if !ok {
		return
	}
	if err := s.st.DeleteRevision(r.Context(), id, n); err != nil {
		storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
