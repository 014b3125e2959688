package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"contractflow/api/internal/auth"
)

func bearerFor(t *testing.T, svc *Service, subject, role string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(svc.cfg.JWTSecret), subject, "Riley", role, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return "Bearer " + token
}

func doRequest(t *testing.T, server *HTTPServer, method, path, authHeader, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()), "*")

	rr := doRequest(t, server, http.MethodGet, "/api/health", "", "")

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if ok := decodeResponse(t, rr)["ok"]; ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Errorf("expected a request id header")
	}
}

func TestReadyEndpointDatabaseDown(t *testing.T) {
	fs := newFakeStore()
	fs.pingFn = func(context.Context) error { return errors.New("connection refused") }
	server := NewHTTPServer(newTestService(fs), "*")

	rr := doRequest(t, server, http.MethodGet, "/api/ready", "", "")

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	if status := decodeResponse(t, rr)["status"]; status != "not_ready" {
		t.Fatalf("expected not_ready, got %v", status)
	}
}

func TestRoutesRequireBearerToken(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()), "*")

	for _, path := range []string{"/api/collaborations/k-1/action", "/api/timeline/search?q=x"} {
		rr := doRequest(t, server, http.MethodGet, path, "", "")
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, rr.Code)
		}
		if code := decodeResponse(t, rr)["code"]; code != CodeUnauthorized {
			t.Fatalf("%s: expected UNAUTHORIZED, got %v", path, code)
		}
	}

	rr := doRequest(t, server, http.MethodGet, "/api/collaborations/k-1/action", "Bearer not-a-jwt", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for malformed token, got %d", rr.Code)
	}
}

func TestSessionEndpoint(t *testing.T) {
	svc := newTestService(newFakeStore())
	server := NewHTTPServer(svc, "*")

	rr := doRequest(t, server, http.MethodGet, "/api/session", bearerFor(t, svc, "user-9", "admin"), "")
	payload := decodeResponse(t, rr)
	if payload["authenticated"] != true || payload["userId"] != "user-9" || payload["role"] != "admin" {
		t.Fatalf("unexpected session payload %v", payload)
	}

	rr = doRequest(t, server, http.MethodGet, "/api/session", "", "")
	if decodeResponse(t, rr)["authenticated"] != false {
		t.Fatalf("expected unauthenticated session")
	}
}

func TestDeriveKeyEndpoint(t *testing.T) {
	svc := newTestService(newFakeStore())
	server := NewHTTPServer(svc, "*")
	authz := bearerFor(t, svc, "user-1", "viewer")

	rr := doRequest(t, server, http.MethodPost, "/api/collaborations/key", authz, `{"campaignId":"camp-1","influencerId":"inf-1"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	key, _ := decodeResponse(t, rr)["key"].(map[string]any)
	if composite, _ := key["collaborationKey"].(string); !strings.HasSuffix(composite, "-none") {
		t.Fatalf("expected contract component none, got %v", key)
	}

	rr = doRequest(t, server, http.MethodPost, "/api/collaborations/key", authz, `{"campaignId":"camp-1"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
}

func TestViewerCannotRender(t *testing.T) {
	fs := newFakeStore()
	seedAnaContract(fs)
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")
	body := `{"campaignId":"camp-1","influencerId":"inf-ana","contractId":"ctr-1"}`

	rr := doRequest(t, server, http.MethodPost, "/api/collaborations/render", bearerFor(t, svc, "user-1", "viewer"), body)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}

	rr = doRequest(t, server, http.MethodPost, "/api/collaborations/preview", bearerFor(t, svc, "user-1", "viewer"), body)
	if rr.Code != http.StatusOK {
		t.Fatalf("viewer preview: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if len(fs.overrides) != 0 {
		t.Fatalf("preview must not save")
	}
}

func TestRenderSendAndShareFlow(t *testing.T) {
	fs := newFakeStore()
	seedAnaContract(fs)
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")
	editorAuth := bearerFor(t, svc, "user-1", "editor")

	rr := doRequest(t, server, http.MethodPost, "/api/collaborations/render", editorAuth,
		`{"campaignId":"camp-1","influencerId":"inf-ana","contractId":"ctr-1","overrides":{"signature_0":"A.Ray"}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("render: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	rendered := decodeResponse(t, rr)
	key := rendered["key"].(map[string]any)["collaborationKey"].(string)
	shareURL, _ := rendered["shareUrl"].(string)
	if !strings.Contains(rendered["renderedHtml"].(string), "A.Ray") {
		t.Fatalf("expected override in rendered html")
	}

	rr = doRequest(t, server, http.MethodPut, "/api/collaborations/"+key+"/variables/signature_1", editorAuth, `{"value":"B.Ray"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("set variable: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, server, http.MethodPost, "/api/collaborations/"+key+"/send", editorAuth, `{}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("send: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	token := shareURL[strings.LastIndex(shareURL, "/")+1:]
	rr = doRequest(t, server, http.MethodGet, "/share/contract/"+token, "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("share: expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("expected html content type, got %q", ct)
	}
	page := rr.Body.String()
	if !strings.Contains(page, "A.Ray") || !strings.Contains(page, "B.Ray") {
		t.Fatalf("share page missing values: %s", page)
	}

	rr = doRequest(t, server, http.MethodGet, "/api/collaborations/"+key+"/timeline", editorAuth, "")
	items, _ := decodeResponse(t, rr)["items"].([]any)
	if len(items) != 5 {
		t.Fatalf("expected 5 timeline entries, got %d", len(items))
	}
	newest := items[0].(map[string]any)
	if newest["actionType"] != "contract_viewed" {
		t.Fatalf("expected newest entry contract_viewed, got %v", newest["actionType"])
	}
}

func TestSendWithoutRenderIsConflict(t *testing.T) {
	svc := newTestService(newFakeStore())
	server := NewHTTPServer(svc, "*")

	rr := doRequest(t, server, http.MethodPost, "/api/collaborations/k-1/send", bearerFor(t, svc, "user-1", "editor"), `{}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if code := decodeResponse(t, rr)["code"]; code != CodeShareTokenMissing {
		t.Fatalf("expected SHARE_TOKEN_MISSING, got %v", code)
	}
}

func TestUnknownShareTokenIsNotFound(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()), "*")

	rr := doRequest(t, server, http.MethodGet, "/share/contract/missing", "", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestActionEndpoints(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")
	editorAuth := bearerFor(t, svc, "user-1", "editor")

	rr := doRequest(t, server, http.MethodPost, "/api/collaborations/k-1/action", editorAuth, `{"action":"callback","callbackDate":"2026-11-02"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}

	rr = doRequest(t, server, http.MethodPost, "/api/collaborations/k-1/action", editorAuth, `{"action":"interested","remark":"ok"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, server, http.MethodPost, "/api/collaborations/k-1/signed", editorAuth, `{}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("signed without flag: expected 422, got %d", rr.Code)
	}

	rr = doRequest(t, server, http.MethodPost, "/api/collaborations/k-1/remarks", editorAuth, `{"remark":"Left a voicemail"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("remark: expected 201, got %d", rr.Code)
	}

	rr = doRequest(t, server, http.MethodGet, "/api/collaborations/k-1/action", bearerFor(t, svc, "user-2", "viewer"), "")
	state := decodeResponse(t, rr)["action"].(map[string]any)
	if state["action"] != "interested" {
		t.Fatalf("unexpected action state %v", state)
	}
}

func TestClearTimelineNeedsAdmin(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")
	if _, err := svc.AddRemark(context.Background(), editor, "k-1", "note"); err != nil {
		t.Fatalf("seed remark: %v", err)
	}

	rr := doRequest(t, server, http.MethodDelete, "/api/collaborations/k-1/timeline", bearerFor(t, svc, "user-1", "editor"), "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("editor clear: expected 403, got %d", rr.Code)
	}

	rr = doRequest(t, server, http.MethodDelete, "/api/collaborations/k-1/timeline", bearerFor(t, svc, "user-1", "admin"), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("admin clear: expected 200, got %d", rr.Code)
	}
	if deleted := decodeResponse(t, rr)["deleted"]; deleted != float64(1) {
		t.Fatalf("expected 1 deleted, got %v", deleted)
	}
}

func TestExportWithoutExporterIsUnavailable(t *testing.T) {
	svc := newTestService(newFakeStore())
	server := NewHTTPServer(svc, "*")
	authz := bearerFor(t, svc, "user-1", "viewer")

	rr := doRequest(t, server, http.MethodGet, "/api/collaborations/k-1/export?format=odt", authz, "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad format: expected 422, got %d", rr.Code)
	}

	rr = doRequest(t, server, http.MethodGet, "/api/collaborations/k-1/export?format=pdf", authz, "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	svc := newTestService(newFakeStore())
	server := NewHTTPServer(svc, "*")

	rr := doRequest(t, server, http.MethodGet, "/api/collaborations/k-1/nothing", bearerFor(t, svc, "user-1", "admin"), "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
