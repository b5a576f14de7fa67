package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/soyeahso/memarena/internal/arena"
	"github.com/soyeahso/memarena/internal/chat"
	"github.com/soyeahso/memarena/internal/domain"
	"github.com/soyeahso/memarena/internal/stream"
)

// maxBodyBytes caps JSON request bodies. Chat bodies carry the whole history.
const maxBodyBytes = 8 << 20

const (
	arenaNotConfigured  = "Arena API is not configured (ARENA_API_BASE)"
	uploadNotConfigured = "Upload API is not configured (ARENA_API_BASE)"
	chatNotConfigured   = "Chat is not configured"
)

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/ping", s.handlePing)
	mux.HandleFunc("GET /api/models", s.handleModels)
	mux.HandleFunc("GET /api/profile", s.handleProfile)

	mux.HandleFunc("POST /api/chat", s.needsChat(requireUser(s.handleChat)))

	mux.HandleFunc("GET /api/sessions", s.needsChat(requireUser(s.handleListSessions)))
	mux.HandleFunc("POST /api/sessions", s.needsChat(requireUser(s.handleCreateSession)))
	mux.HandleFunc("PATCH /api/sessions/{id}", s.needsChat(requireUser(s.handleRenameSession)))
	mux.HandleFunc("DELETE /api/sessions/{id}", s.needsChat(requireUser(s.handleDeleteSession)))
	mux.HandleFunc("GET /api/sessions/{id}/messages", s.needsChat(requireUser(s.handleHistory)))
	mux.HandleFunc("POST /api/sessions/{id}/messages", s.needsChat(requireUser(s.handleSaveUserMessage)))

	mux.HandleFunc("POST /api/arena/documents", s.needsArena(arenaNotConfigured, requireUser(s.handleCreateDocument)))
	mux.HandleFunc("GET /api/arena/documents/status", s.needsArena(arenaNotConfigured, requireUser(s.handleDocumentStatus)))
	mux.HandleFunc("POST /api/upload/create-multipart", s.needsArena(uploadNotConfigured, requireUser(s.handleCreateMultipart)))
	mux.HandleFunc("POST /api/upload/complete-multipart", s.needsArena(uploadNotConfigured, requireUser(s.handleCompleteMultipart)))

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}

func (s *Server) needsChat(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.chat == nil {
			writeError(w, http.StatusServiceUnavailable, chatNotConfigured)
			return
		}
		next(w, r)
	}
}

func (s *Server) needsArena(msg string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.arena.Configured() {
			writeError(w, http.StatusServiceUnavailable, msg)
			return
		}
		next(w, r)
	}
}

// --- Models ---

type modelsResponse struct {
	Models       []domain.Model `json:"models"`
	DefaultModel string         `json:"defaultModel"`
	Agents       []domain.Agent `json:"agents"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, modelsResponse{
		Models:       domain.Models(),
		DefaultModel: domain.DefaultModel,
		Agents:       domain.Agents,
	})
}

// --- Chat ---

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Bad Request")
		return
	}
	req, err := chat.ParseRequest(body)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	turn, err := s.chat.Prepare(r.Context(), userID(r), req)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	s.streams.Add(1)
	defer s.streams.Done()

	stream.SetHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	enc := stream.NewEncoder(w)
	if err := s.chat.Run(r.Context(), turn, enc); err != nil {
		s.log.Debug().Err(err).Str("agent", string(req.AgentID)).Msg("client stopped reading stream")
		return
	}
	enc.Close()
}

// --- Sessions ---

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.chat.ListSessions(r.Context(), userID(r))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type createSessionRequest struct {
	ID string `json:"id,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	sess, err := s.chat.CreateSession(r.Context(), userID(r), req.ID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

type renameSessionRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	var req renameSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, err := s.chat.RenameSession(r.Context(), userID(r), r.PathValue("id"), req.Title)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "session": sess})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.chat.DeleteSession(r.Context(), userID(r), r.PathValue("id")); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.chat.History(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type saveUserMessageRequest struct {
	Content     string              `json:"content"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
}

func (s *Server) handleSaveUserMessage(w http.ResponseWriter, r *http.Request) {
	var req saveUserMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := s.chat.SaveUserMessage(r.Context(), userID(r), r.PathValue("id"), req.Content, req.Attachments)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"userMessageId": msg.ID})
}

// --- Arena proxies ---

// decodeObject reads a JSON object keeping numbers exact.
func decodeObject(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil || body == nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return nil, false
	}
	return body, true
}

func nonEmptyString(body map[string]any, key string) (string, bool) {
	s, ok := body[key].(string)
	return s, ok && s != ""
}

// proxy forwards one call to Arena and relays its status and body.
func (s *Server) proxy(w http.ResponseWriter, r *http.Request, method, path string, query url.Values, body any) {
	resp, err := s.arena.Do(r.Context(), method, path, query, userID(r), body)
	if err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("arena proxy failed")
		writeError(w, http.StatusBadGateway, "Arena request failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	io.Copy(w, bytes.NewReader(resp.Body))
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeObject(w, r)
	if !ok {
		return
	}
	projectID, ok1 := nonEmptyString(body, "project_id")
	fileName, ok2 := nonEmptyString(body, "file_name")
	objectKey, ok3 := nonEmptyString(body, "object_key")
	if !ok1 || !ok2 || !ok3 {
		writeError(w, http.StatusBadRequest, "project_id, file_name, and object_key are required")
		return
	}
	s.proxy(w, r, http.MethodPost, arena.DocumentsPath, nil, arena.CreateDocumentRequest{
		ProjectID: projectID,
		FileName:  fileName,
		ObjectKey: objectKey,
		UserID:    userID(r),
	})
}

func (s *Server) handleDocumentStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ml := strings.TrimSpace(q.Get("memorylake_document_id"))
	sm := strings.TrimSpace(q.Get("supermemory_document_id"))
	if ml == "" || sm == "" {
		writeError(w, http.StatusBadRequest, "memorylake_document_id and supermemory_document_id query params are required")
		return
	}
	s.proxy(w, r, http.MethodGet, arena.DocumentStatusPath, arena.StatusQuery(ml, sm), nil)
}

func (s *Server) handleCreateMultipart(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeObject(w, r)
	if !ok {
		return
	}
	size, isNum := body["file_size"].(json.Number)
	if f, err := size.Float64(); !isNum || err != nil || f < 0 {
		writeError(w, http.StatusBadRequest, "file_size must be a non-negative number")
		return
	}
	s.proxy(w, r, http.MethodPost, arena.CreateMultipartPath, nil, map[string]any{"file_size": size})
}

func (s *Server) handleCompleteMultipart(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeObject(w, r)
	if !ok {
		return
	}
	uploadID, ok1 := body["upload_id"].(string)
	objectKey, ok2 := body["object_key"].(string)
	parts, ok3 := body["part_eTags"].([]any)
	if !ok1 || !ok2 || !ok3 {
		writeError(w, http.StatusBadRequest, "upload_id, object_key, part_eTags required")
		return
	}
	s.proxy(w, r, http.MethodPost, arena.CompleteMultipartPath, nil, map[string]any{
		"upload_id":  uploadID,
		"object_key": objectKey,
		"part_eTags": parts,
	})
}

// --- Profile ---

type profileResponse struct {
	User         *arena.User          `json:"user"`
	ArenaProfile *domain.ArenaProfile `json:"arenaProfile"`
}

// handleProfile exchanges the main-domain session cookie for the user and
// their Arena profile.
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(s.identity.CookieName())
	if err != nil || cookie.Value == "" {
		writeError(w, http.StatusUnauthorized, "Not signed in or session expired")
		return
	}
	user, err := s.identity.Self(r.Context(), cookie.Value)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	profile, err := s.arena.Profile(r.Context(), user.ID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{User: user, ArenaProfile: profile})
}
