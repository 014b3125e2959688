package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"contractflow/api/internal/auth"
	"contractflow/api/internal/export"
	"contractflow/api/internal/rbac"
	"contractflow/api/internal/search"
	"contractflow/api/internal/store"
	"contractflow/api/internal/util"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

// forbid writes a 403 unless the session's role allows action.
func (s *HTTPServer) forbid(w http.ResponseWriter, session Session, action rbac.Action) bool {
	if s.service.Can(session.Role, action) {
		return false
	}
	writeError(w, http.StatusForbidden, CodeForbidden, "Forbidden", map[string]any{"action": action})
	return true
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		// The cache is optional; a failure is reported but does not block readiness.
		if configured, err := s.service.PingCache(ctx); configured {
			checks["cache"] = map[string]any{"status": "ok"}
			if err != nil {
				checks["cache"] = map[string]any{"status": "degraded", "error": err.Error()}
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	parts := splitPath(r.URL.Path)

	// Share links are public; possession of the token is the access check.
	if len(parts) == 3 && parts[0] == "share" && parts[1] == "contract" && r.Method == http.MethodGet {
		s.handleSharedContract(w, r, parts[2])
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "userName": session.UserName, "userId": session.UserID, "role": session.Role})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/timeline/search" {
		if s.forbid(w, session, rbac.ActionRead) {
			return
		}
		q := r.URL.Query()
		writeJSON(w, http.StatusOK, s.service.SearchTimeline(search.Query{
			Text:             q.Get("q"),
			CollaborationKey: strings.TrimSpace(q.Get("collaborationKey")),
			ActionType:       strings.TrimSpace(q.Get("actionType")),
			Limit:            queryInt(r, "limit", 20),
			Offset:           queryInt(r, "offset", 0),
		}))
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "collaborations" && r.Method == http.MethodPost {
		switch parts[2] {
		case "key":
			s.handleDeriveKey(w, r)
			return
		case "render", "preview":
			s.handleRender(w, r, session, parts[2] == "render")
			return
		}
	}

	if len(parts) >= 4 && parts[0] == "api" && parts[1] == "collaborations" {
		s.handleCollaboration(w, r, session, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
}

func (s *HTTPServer) handleDeriveKey(w http.ResponseWriter, r *http.Request) {
	var body CollaborationRef
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, err.Error(), nil)
		return
	}
	key, err := s.service.DeriveKey(body)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key})
}

func (s *HTTPServer) handleRender(w http.ResponseWriter, r *http.Request, session Session, save bool) {
	action := rbac.ActionRead
	if save {
		action = rbac.ActionEdit
	}
	if s.forbid(w, session, action) {
		return
	}
	var body RenderInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, err.Error(), nil)
		return
	}

	var (
		result RenderResult
		err    error
	)
	if save {
		result, err = s.service.Render(r.Context(), session, body)
	} else {
		result, err = s.service.Preview(r.Context(), body)
	}
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleCollaboration(w http.ResponseWriter, r *http.Request, session Session, key string, rest []string) {
	ctx := r.Context()

	switch {
	case len(rest) == 1 && rest[0] == "contract" && r.Method == http.MethodGet:
		if s.forbid(w, session, rbac.ActionRead) {
			return
		}
		view, err := s.service.ViewContract(ctx, session, key)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)

	case len(rest) == 2 && rest[0] == "variables" && r.Method == http.MethodPut:
		if s.forbid(w, session, rbac.ActionEdit) {
			return
		}
		var body struct {
			Value string `json:"value"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusUnprocessableEntity, CodeValidation, err.Error(), nil)
			return
		}
		result, err := s.service.SetVariable(ctx, session, key, rest[1], body.Value)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case len(rest) == 1 && rest[0] == "action" && r.Method == http.MethodGet:
		if s.forbid(w, session, rbac.ActionRead) {
			return
		}
		state, err := s.service.GetAction(ctx, key)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"action": state})

	case len(rest) == 1 && rest[0] == "action" && r.Method == http.MethodPost:
		if s.forbid(w, session, rbac.ActionEdit) {
			return
		}
		var body ActionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusUnprocessableEntity, CodeValidation, err.Error(), nil)
			return
		}
		result, err := s.service.SubmitAction(ctx, session, key, body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case len(rest) == 1 && rest[0] == "remarks" && r.Method == http.MethodPost:
		if s.forbid(w, session, rbac.ActionEdit) {
			return
		}
		var body struct {
			Remark string `json:"remark"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusUnprocessableEntity, CodeValidation, err.Error(), nil)
			return
		}
		item, err := s.service.AddRemark(ctx, session, key, body.Remark)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"entry": item})

	case len(rest) == 1 && rest[0] == "signed" && r.Method == http.MethodPost:
		if s.forbid(w, session, rbac.ActionEdit) {
			return
		}
		var body struct {
			Signed *bool `json:"signed"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusUnprocessableEntity, CodeValidation, err.Error(), nil)
			return
		}
		if body.Signed == nil {
			writeError(w, http.StatusUnprocessableEntity, CodeValidation, "signed is required", map[string]any{"field": "signed"})
			return
		}
		result, err := s.service.MarkSigned(ctx, session, key, *body.Signed)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case len(rest) == 1 && rest[0] == "send" && r.Method == http.MethodPost:
		if s.forbid(w, session, rbac.ActionSend) {
			return
		}
		var body SendInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusUnprocessableEntity, CodeValidation, err.Error(), nil)
			return
		}
		result, err := s.service.SendContract(ctx, session, key, body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case len(rest) == 1 && rest[0] == "export" && r.Method == http.MethodGet:
		if s.forbid(w, session, rbac.ActionRead) {
			return
		}
		s.handleExport(w, r, session, key)

	case len(rest) == 1 && rest[0] == "timeline" && r.Method == http.MethodGet:
		if s.forbid(w, session, rbac.ActionRead) {
			return
		}
		items, err := s.service.Timeline(ctx, key, queryInt(r, "limit", 50))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})

	case len(rest) == 1 && rest[0] == "timeline" && r.Method == http.MethodDelete:
		if s.forbid(w, session, rbac.ActionClear) {
			return
		}
		deleted, err := s.service.ClearTimeline(ctx, session, key)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})

	case len(rest) == 1 && rest[0] == "revisions" && r.Method == http.MethodGet:
		if s.forbid(w, session, rbac.ActionRead) {
			return
		}
		items, err := s.service.Revisions(ctx, key)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"revisions": items})

	case len(rest) == 2 && rest[0] == "revisions" && r.Method == http.MethodGet:
		if s.forbid(w, session, rbac.ActionRead) {
			return
		}
		view, err := s.service.Revision(ctx, key, rest[1])
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)

	default:
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
	}
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, session Session, key string) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "format must be pdf or docx", map[string]any{"field": "format"})
		return
	}
	result, err := s.service.Export(r.Context(), session, key, format, r.URL.Query().Get("title"))
	if err != nil {
		writeMappedError(w, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, result.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	if result.ArchiveKey != "" {
		w.Header().Set("X-Archive-Key", result.ArchiveKey)
	}
	if result.ArchiveURL != "" {
		w.Header().Set("X-Archive-URL", result.ArchiveURL)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleSharedContract(w http.ResponseWriter, r *http.Request, token string) {
	page, err := s.service.ViewSharedContract(r.Context(), token)
	if err != nil {
		status, _, message, _ := mapError(err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(message))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(page))
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, CodeServerError, "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusInternalServerError {
		log.Printf("request failed: %v", err)
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, CodeNotFound, "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil
	}
	return http.StatusInternalServerError, CodeServerError, "Server error", nil
}
