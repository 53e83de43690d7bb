// ABOUTME: Scripted fake chat backend for exercising the HTTP client and controllers in tests.
// ABOUTME: A chi-routed httptest server that replays configured SSE frame scripts and fixture rows.

package chattest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/2389-research/parley/wire"
)

// Frame is one scripted SSE event. Data is JSON-encoded when non-nil;
// RawData is written verbatim instead when set.
type Frame struct {
	Event   string
	Data    any
	RawData string
}

// PageRequest records the pagination query of one history listing.
type PageRequest struct {
	Skip  int
	Limit int
}

// Server is a scripted chat backend. Configure its exported fields before
// issuing requests; they are read under the server's lock.
type Server struct {
	httpSrv *httptest.Server

	mu sync.Mutex

	// FriendScript is replayed by the direct send endpoint.
	FriendScript []Frame
	// RegenScript is replayed by the regenerate endpoint.
	RegenScript []Frame
	// GroupScript is replayed by the group send endpoint.
	GroupScript []Frame
	// DriveScript is replayed by the auto-drive subscription endpoint.
	DriveScript []Frame

	// FriendHistory and GroupHistory back the pagination endpoints.
	FriendHistory []wire.MessageRead
	GroupHistory  []wire.GroupMessageRead
	// GroupRows backs single-message lookup, keyed by message id.
	GroupRows map[int64]wire.GroupMessageRead

	// Sessions backs the session list; NewSession the session create call.
	Sessions   []wire.ChatSession
	NewSession wire.ChatSession
	// RecallRow is returned by the recall endpoint.
	RecallRow wire.MessageRead

	// DriveState backs every lifecycle call; nil makes the state endpoint
	// answer 404 (no active run).
	DriveState *wire.AutoDriveStateRead
	// InterjectMessageID is returned by the interject endpoint.
	InterjectMessageID int64

	// FailWith, when nonzero, makes every endpoint answer that status.
	FailWith int

	// Request records, newest last.
	SendRequests       []wire.SendMessageRequest
	GroupSendRequests  []wire.GroupSendRequest
	InterjectRequests  []wire.AutoDriveInterjectRequest
	FriendPageRequests []PageRequest
	GroupPageRequests  []PageRequest
	AuthHeaders        []string
}

// New starts a scripted backend. Callers must Close it.
func New() *Server {
	s := &Server{GroupRows: make(map[int64]wire.GroupMessageRead)}

	r := chi.NewRouter()
	r.Post("/api/chat/{friendID}/send", s.handleFriendSend)
	r.Post("/api/chat/{friendID}/regenerate/{messageID}", s.handleRegenerate)
	r.Post("/api/chat/{friendID}/recall/{messageID}", s.handleRecall)
	r.Get("/api/chat/{friendID}/messages", s.handleFriendMessages)
	r.Get("/api/chat/{friendID}/sessions", s.handleSessions)
	r.Post("/api/chat/{friendID}/sessions", s.handleNewSession)
	r.Post("/api/group/{groupID}/send", s.handleGroupSend)
	r.Get("/api/group/{groupID}/messages", s.handleGroupMessages)
	r.Get("/api/group/{groupID}/messages/{messageID}", s.handleGroupMessage)
	r.Post("/api/auto_drive/start", s.handleDriveAction)
	r.Post("/api/auto_drive/pause", s.handleDriveAction)
	r.Post("/api/auto_drive/resume", s.handleDriveAction)
	r.Post("/api/auto_drive/stop", s.handleDriveAction)
	r.Get("/api/auto_drive/state", s.handleDriveState)
	r.Get("/api/auto_drive/stream", s.handleDriveStream)
	r.Post("/api/auto_drive/interject", s.handleInterject)

	s.httpSrv = httptest.NewServer(r)
	return s
}

// URL returns the backend's base URL.
func (s *Server) URL() string { return s.httpSrv.URL }

// Close shuts the backend down.
func (s *Server) Close() { s.httpSrv.Close() }

// failing records auth and applies the forced failure status, if any.
func (s *Server) failing(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	s.AuthHeaders = append(s.AuthHeaders, r.Header.Get("Authorization"))
	status := s.FailWith
	s.mu.Unlock()
	if status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"detail":"scripted failure"}`)
		return true
	}
	return false
}

func pageParams(r *http.Request) (skip, limit int) {
	skip, _ = strconv.Atoi(r.URL.Query().Get("skip"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	return skip, limit
}

// pageOf applies skip/limit windowing the way the real listing endpoints do.
func pageOf[T any](rows []T, skip, limit int) []T {
	if skip >= len(rows) {
		return nil
	}
	rows = rows[skip:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// replay writes a frame script as an SSE body.
func (s *Server) replay(w http.ResponseWriter, frames []Frame) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	for _, f := range frames {
		if f.Event != "" {
			fmt.Fprintf(w, "event: %s\n", f.Event)
		}
		if f.RawData != "" {
			fmt.Fprintf(w, "data: %s\n\n", f.RawData)
		} else {
			encoded, err := json.Marshal(f.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", encoded)
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) handleFriendSend(w http.ResponseWriter, r *http.Request) {
	if s.failing(w, r) {
		return
	}
	var req wire.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.SendRequests = append(s.SendRequests, req)
	frames := s.FriendScript
	s.mu.Unlock()
	s.replay(w, frames)
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	if s.failing(w, r) {
		return
	}
	s.mu.Lock()
	frames := s.RegenScript
	s.mu.Unlock()
	s.replay(w, frames)
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	if s.failing(w, r) {
		return
	}
	s.mu.Lock()
	row := s.RecallRow
	s.mu.Unlock()
	s.writeJSON(w, row)
}

func (s *Server) handleFriendMessages(w http.ResponseWriter, r *http.Request) {
	if s.failing(w, r) {
		return
	}
	skip, limit := pageParams(r)
	s.mu.Lock()
	s.FriendPageRequests = append(s.FriendPageRequests, PageRequest{Skip: skip, Limit: limit})
	rows := pageOf(s.FriendHistory, skip, limit)
	s.mu.Unlock()
	s.writeJSON(w, rows)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.failing(w, r) {
		return
	}
	s.mu.Lock()
	rows := s.Sessions
	s.mu.Unlock()
	s.writeJSON(w, rows)
}

func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	if s.failing(w, r) {
		return
	}
	s.mu.Lock()
	row := s.NewSession
	s.mu.Unlock()
	s.writeJSON(w, row)
}

func (s *Server) handleGroupSend(w http.ResponseWriter, r *http.Request) {
	if s.failing(w, r) {
		return
	}
	var req wire.GroupSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.GroupSendRequests = append(s.GroupSendRequests, req)
	frames := s.GroupScript
	s.mu.Unlock()
	s.replay(w, frames)
}

func (s *Server) handleGroupMessages(w http.ResponseWriter, r *http.Request) {
	if s.failing(w, r) {
		return
	}
	skip, limit := pageParams(r)
	s.mu.Lock()
	s.GroupPageRequests = append(s.GroupPageRequests, PageRequest{Skip: skip, Limit: limit})
	rows := pageOf(s.GroupHistory, skip, limit)
	s.mu.Unlock()
	s.writeJSON(w, rows)
}

func (s *Server) handleGroupMessage(w http.ResponseWriter, r *http.Request) {
	if s.failing(w, r) {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "messageID"), 10, 64)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	row, ok := s.GroupRows[id]
	s.mu.Unlock()
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `{"detail":"message not found"}`)
		return
	}
	s.writeJSON(w, row)
}

func (s *Server) handleDriveAction(w http.ResponseWriter, r *http.Request) {
	if s.failing(w, r) {
		return
	}
	s.mu.Lock()
	st := s.DriveState
	s.mu.Unlock()
	if st == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `{"detail":"no active run"}`)
		return
	}
	s.writeJSON(w, st)
}

func (s *Server) handleDriveState(w http.ResponseWriter, r *http.Request) {
	s.handleDriveAction(w, r)
}

func (s *Server) handleDriveStream(w http.ResponseWriter, r *http.Request) {
	if s.failing(w, r) {
		return
	}
	s.mu.Lock()
	frames := s.DriveScript
	s.mu.Unlock()
	s.replay(w, frames)
}

func (s *Server) handleInterject(w http.ResponseWriter, r *http.Request) {
	if s.failing(w, r) {
		return
	}
	var req wire.AutoDriveInterjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.InterjectRequests = append(s.InterjectRequests, req)
	id := s.InterjectMessageID
	s.mu.Unlock()
	s.writeJSON(w, map[string]int64{"message_id": id})
}
