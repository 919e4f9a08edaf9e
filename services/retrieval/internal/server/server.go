package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"docchat/internal/servicetoken"
	"docchat/pkg/domain"
	"docchat/services/retrieval/internal/app"
)

const maxUploadBytes = 100 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App      *app.App
	Verifier *servicetoken.Verifier
}

// Server exposes HTTP endpoints for the retrieval service.
type Server struct {
	app      *app.App
	verifier *servicetoken.Verifier
	mux      *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("service token verifier required")
	}
	s := &Server{
		app:      cfg.App,
		verifier: cfg.Verifier,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/documents", s.withInternal(s.handleDocuments))
	s.mux.Handle("/documents/", s.withInternal(s.handleDocumentByID))
	s.mux.Handle("/search", s.withInternal(s.handleSearch))
	s.mux.Handle("/history", s.withInternal(s.handleHistory))
	s.mux.Handle("/conversations/", s.withInternal(s.handleConversationByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) withInternal(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := servicetoken.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if _, err := s.verifier.Verify(token); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	})
}

func scopeFromQuery(r *http.Request) domain.Scope {
	return domain.Scope{
		UserID:         strings.TrimSpace(r.URL.Query().Get("userId")),
		ConversationID: strings.TrimSpace(r.URL.Query().Get("conversationId")),
	}
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleUpload(w, r)
	case http.MethodGet:
		docs, err := s.app.ListDocuments(scopeFromQuery(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if docs == nil {
			docs = []domain.Document{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	scope := domain.Scope{
		UserID:         strings.TrimSpace(r.FormValue("userId")),
		ConversationID: strings.TrimSpace(r.FormValue("conversationId")),
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field required")
		return
	}
	defer file.Close()

	doc, err := s.app.Upload(r.Context(), scope, header.Filename, header.Header.Get("Content-Type"), header.Size, file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/documents/")
	id, tail, _ := strings.Cut(rest, "/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	switch {
	case tail == "status" && r.Method == http.MethodGet:
		status, ok, err := s.app.GetStatus(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeJSON(w, http.StatusOK, status)
	case tail == "" && r.Method == http.MethodGet:
		doc, ok, err := s.app.GetDocument(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case tail == "" && r.Method == http.MethodDelete:
		if err := s.app.DeleteDocument(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		if tail != "" && tail != "status" {
			http.NotFound(w, r)
			return
		}
		methodNotAllowed(w)
	}
}

type searchRequest struct {
	UserID         string    `json:"userId"`
	ConversationID string    `json:"conversationId"`
	Query          string    `json:"query"`
	Embedding      []float32 `json:"embedding"`
	MatchCount     int       `json:"matchCount"`
	Threshold      float64   `json:"threshold"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	scope := domain.Scope{UserID: req.UserID, ConversationID: req.ConversationID}
	results, err := s.app.Search(r.Context(), scope, app.SearchRequest{
		Query:      req.Query,
		Embedding:  req.Embedding,
		MatchCount: req.MatchCount,
		Threshold:  req.Threshold,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type appendMessageRequest struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	Role           string `json:"role"`
	Content        string `json:"content"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		scope := scopeFromQuery(r)
		query := r.URL.Query()
		limit, _ := strconv.Atoi(query.Get("limit"))
		if raw := strings.TrimSpace(query.Get("after")); raw != "" {
			after, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "after must be RFC3339")
				return
			}
			messages, err := s.app.HistoryAfter(scope, after, limit)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
			return
		}
		offset, _ := strconv.Atoi(query.Get("offset"))
		page, err := s.app.History(scope, offset, limit)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, page)
	case http.MethodPost:
		var req appendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		scope := domain.Scope{UserID: req.UserID, ConversationID: req.ConversationID}
		msg, err := s.app.AppendMessage(scope, req.Role, req.Content)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleConversationByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/conversations/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	scope := domain.Scope{
		UserID:         strings.TrimSpace(r.URL.Query().Get("userId")),
		ConversationID: id,
	}
	if scope.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId required")
		return
	}
	if err := s.app.DeleteConversation(r.Context(), scope); err != nil {
		// do not reveal whether the conversation exists under another user
		if errors.Is(err, app.ErrConversationNotOwned) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
