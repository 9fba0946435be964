package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"campusfound/internal/app"
	"campusfound/internal/identity"
	"campusfound/internal/util"
	"campusfound/pkg/domain"
)

const maxBodyBytes = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App      *app.App
	Resolver *identity.Resolver
}

// Server exposes the HTTP API.
type Server struct {
	app      *app.App
	resolver *identity.Resolver
	mux      *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:      cfg.App,
		resolver: cfg.Resolver,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler wrapped in the shared middleware.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("campusfound", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.Handle("/api/items", s.withUser(s.handleItems))
	s.mux.Handle("/api/items/", s.withUser(s.handleItemSubpath))
	s.mux.Handle("/api/chats", s.withUser(s.handleChats))
	s.mux.Handle("/api/chats/", s.withUser(s.handleChatSubpath))
	s.mux.Handle("/api/users/me", s.withUser(s.handleMe))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

// withUser authenticates the caller and syncs their profile row. Identity
// comes exclusively from the verified token claims; nothing in the request
// body can influence who the caller is.
func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.resolver == nil {
			writeError(w, http.StatusInternalServerError, "identity resolver not configured")
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		profile, err := s.resolver.Resolve(token)
		if err != nil {
			slog.Warn("token rejected", "path", r.URL.Path, "err", err)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, err := s.app.SyncUser(profile.ID, profile.Email, profile.Name, profile.Picture)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		next(w, r, user)
	})
}

// items

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitReport(w, r, user)
	case http.MethodGet:
		s.handleListItems(w, r)
	default:
		methodNotAllowed(w)
	}
}

// handleItemSubpath dispatches /api/items/{id}[/matches|/resolve] and
// /api/items/mine.
func (s *Server) handleItemSubpath(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/api/items/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if id == "mine" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleMyItems(w, r, user)
		return
	}
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.handleGetItem(w, r, id)
		case http.MethodDelete:
			s.handleDeleteItem(w, r, user, id)
		default:
			methodNotAllowed(w)
		}
		return
	}
	switch parts[1] {
	case "matches":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleMatches(w, r, id)
	case "resolve":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleResolveItem(w, r, user, id)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

type reportRequest struct {
	Type         string `json:"type"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Category     string `json:"category"`
	LocationZone string `json:"locationZone"`
	Date         string `json:"date"`
	ImageURL     string `json:"imageUrl"`
	Query        string `json:"query"`
	LabelHint    string `json:"labelHint"`
}

func (s *Server) handleSubmitReport(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req reportRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	item, err := s.app.SubmitReport(r.Context(), user, app.ReportInput{
		Type:         domain.ItemType(req.Type),
		Title:        req.Title,
		Description:  req.Description,
		Category:     domain.Category(req.Category),
		LocationZone: domain.Zone(req.LocationZone),
		Date:         req.Date,
		ImageURL:     req.ImageURL,
		Query:        req.Query,
		LabelHint:    req.LabelHint,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.app.ListOpenItems(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleMyItems(w http.ResponseWriter, r *http.Request, user domain.User) {
	items, err := s.app.ListMyItems(user)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request, id string) {
	item, err := s.app.GetItem(id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if err := s.app.DeleteItem(r.Context(), user, id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request, id string) {
	matches, err := s.app.FindMatches(id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

func (s *Server) handleResolveItem(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if err := s.app.ResolveItemDirect(r.Context(), user, id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

// chats

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodPost:
		s.handleStartChat(w, r, user)
	case http.MethodGet:
		s.handleMyChats(w, r, user)
	default:
		methodNotAllowed(w)
	}
}

// handleChatSubpath dispatches /api/chats/{id}/messages and
// /api/chats/{id}/close.
func (s *Server) handleChatSubpath(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/api/chats/")
	parts := strings.SplitN(path, "/", 2)
	if parts[0] == "" || len(parts) < 2 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	id := parts[0]
	switch parts[1] {
	case "messages":
		switch r.Method {
		case http.MethodGet:
			s.handleListMessages(w, r, user, id)
		case http.MethodPost:
			s.handleSendMessage(w, r, user, id)
		default:
			methodNotAllowed(w)
		}
	case "close":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleCloseChat(w, r, user, id)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

type startChatRequest struct {
	ItemID        string `json:"itemId"`
	RelatedItemID string `json:"relatedItemId"`
}

func (s *Server) handleStartChat(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req startChatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.ItemID) == "" {
		writeError(w, http.StatusBadRequest, "itemId is required")
		return
	}
	chat, err := s.app.StartChat(user, req.ItemID, req.RelatedItemID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

func (s *Server) handleMyChats(w http.ResponseWriter, r *http.Request, user domain.User) {
	chats, err := s.app.ListMyChats(user)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

type messageRequest struct {
	Content  string `json:"content"`
	MediaURL string `json:"mediaUrl"`
	Type     string `json:"type"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, user domain.User, chatID string) {
	var req messageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	message, err := s.app.SendMessage(user, chatID, app.MessageInput{
		Content:  req.Content,
		MediaURL: req.MediaURL,
		Type:     domain.MessageType(req.Type),
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, message)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request, user domain.User, chatID string) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	thread, err := s.app.ListMessages(user, chatID, limit)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

func (s *Server) handleCloseChat(w http.ResponseWriter, r *http.Request, user domain.User, chatID string) {
	outcome, err := s.app.RequestClose(r.Context(), user, chatID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// users

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// helpers

// writeAppError maps application sentinels to HTTP statuses. Unknown
// errors are logged and reported as opaque 500s.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case app.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrEmptyMessage), errors.Is(err, app.ErrSameTypeLink):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrItemNotFound), errors.Is(err, app.ErrChatNotFound), errors.Is(err, app.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrSelfContact), errors.Is(err, app.ErrNotParticipant),
		errors.Is(err, app.ErrNotOwner), errors.Is(err, app.ErrRelatedNotOwned):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrAlreadyResolved), errors.Is(err, app.ErrChatClosed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		slog.Error("request failed", "path", r.URL.Path, "method", r.Method, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
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
