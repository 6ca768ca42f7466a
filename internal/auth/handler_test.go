package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestHandler(t *testing.T) (*Handler, *MemoryStore, *TokenService) {
	t.Helper()
	store := NewMemoryStore(StorePolicy{MaxFailedAttempts: 5, LockoutDuration: 30 * time.Minute})
	if err := store.Create(context.Background(), "ops", "opspassword", RoleSecurity); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(context.Background(), "root", "rootpassword", RoleAdmin); err != nil {
		t.Fatalf("create: %v", err)
	}
	svc := newTestTokenService(t, store)
	h := NewHandler(svc, store, discardLogger())
	h.floor = 0 // no artificial latency in tests
	return h, store, svc
}

func postJSON(t *testing.T, handler http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

func TestLoginSuccess(t *testing.T) {
	h, _, svc := newTestHandler(t)

	rr := postJSON(t, h.Login, "/api/auth", `{"username":"ops","password":"opspassword"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}

	var pair TokenPair
	if err := json.Unmarshal(rr.Body.Bytes(), &pair); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pair.TokenType != "Bearer" || pair.ExpiresIn != 3600 {
		t.Fatalf("pair metadata = %q/%d", pair.TokenType, pair.ExpiresIn)
	}
	username, role, err := svc.Validate(pair.AccessToken)
	if err != nil {
		t.Fatalf("validate issued token: %v", err)
	}
	if username != "ops" || role != RoleSecurity {
		t.Fatalf("claims = (%q, %q)", username, role)
	}
}

func TestLoginFailureShapeIsUniform(t *testing.T) {
	h, _, _ := newTestHandler(t)

	unknown := postJSON(t, h.Login, "/api/auth", `{"username":"nobody","password":"x"}`)
	wrong := postJSON(t, h.Login, "/api/auth", `{"username":"ops","password":"x"}`)

	if unknown.Code != http.StatusUnauthorized || wrong.Code != http.StatusUnauthorized {
		t.Fatalf("statuses = %d/%d, want 401/401", unknown.Code, wrong.Code)
	}

	var a, b map[string]any
	if err := json.Unmarshal(unknown.Body.Bytes(), &a); err != nil {
		t.Fatalf("decode unknown: %v", err)
	}
	if err := json.Unmarshal(wrong.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode wrong: %v", err)
	}
	for _, key := range []string{"error", "attempts_left"} {
		if _, ok := a[key]; !ok {
			t.Fatalf("unknown-user body missing %q: %v", key, a)
		}
		if _, ok := b[key]; !ok {
			t.Fatalf("wrong-password body missing %q: %v", key, b)
		}
	}
	if a["error"] != b["error"] {
		t.Fatalf("error messages differ: %v vs %v", a["error"], b["error"])
	}
}

func TestLoginLockoutResponse(t *testing.T) {
	h, _, _ := newTestHandler(t)

	for i := 0; i < 5; i++ {
		postJSON(t, h.Login, "/api/auth", `{"username":"ops","password":"bad"}`)
	}
	rr := postJSON(t, h.Login, "/api/auth", `{"username":"ops","password":"opspassword"}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After header")
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	lockedUntil, ok := body["locked_until"].(string)
	if !ok {
		t.Fatalf("body missing locked_until: %v", body)
	}
	if _, err := time.Parse(time.RFC3339, lockedUntil); err != nil {
		t.Fatalf("locked_until not RFC3339: %v", err)
	}
}

func TestLoginRejectsMalformedBody(t *testing.T) {
	h, _, _ := newTestHandler(t)
	rr := postJSON(t, h.Login, "/api/auth", `{"username":"ops","password":"x","extra":true}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestRefreshEndpoint(t *testing.T) {
	h, _, svc := newTestHandler(t)

	pair, err := svc.Issue("ops", RoleSecurity)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	rr := postJSON(t, h.Refresh, "/api/refresh_token", `{"refresh_token":"`+pair.RefreshToken+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}

	rr = postJSON(t, h.Refresh, "/api/refresh_token", `{"refresh_token":"garbage"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("garbage refresh status = %d, want 401", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "invalid or expired token" {
		t.Fatalf("error = %q, want generic message", body["error"])
	}
}

func TestCreateUserRequiresAdmin(t *testing.T) {
	h, store, svc := newTestHandler(t)

	secured := JWTMiddleware(svc)
	endpoint := secured(RequireRole(h.CreateUser, RoleAdmin))

	adminPair, err := svc.Issue("root", RoleAdmin)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	opsPair, err := svc.Issue("ops", RoleSecurity)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	send := func(token, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/create_user", strings.NewReader(body))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rr := httptest.NewRecorder()
		endpoint.ServeHTTP(rr, req)
		return rr
	}

	if rr := send("", `{"username":"x","password":"y","role":"auditor"}`); rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", rr.Code)
	}
	if rr := send(opsPair.AccessToken, `{"username":"x","password":"y","role":"auditor"}`); rr.Code != http.StatusForbidden {
		t.Fatalf("non-admin: status = %d, want 403", rr.Code)
	}

	rr := send(adminPair.AccessToken, `{"username":"audrey","password":"auditpw","role":"auditor"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("admin create: status = %d, want 201: %s", rr.Code, rr.Body.String())
	}
	if ok, _ := store.Exists(context.Background(), "audrey"); !ok {
		t.Fatalf("user not created")
	}

	if rr := send(adminPair.AccessToken, `{"username":"audrey","password":"auditpw","role":"auditor"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("duplicate: status = %d, want 400", rr.Code)
	}
	if rr := send(adminPair.AccessToken, `{"username":"mal","password":"pw","role":"root"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad role: status = %d, want 400", rr.Code)
	}
}
