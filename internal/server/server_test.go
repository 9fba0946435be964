package server

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"campusfound/internal/app"
	"campusfound/internal/identity"
	"campusfound/pkg/domain"
	"campusfound/pkg/store"
)

type testHarness struct {
	server *httptest.Server
	key    *rsa.PrivateKey
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	return newHarnessWithStore(t, store.NewMemoryStore())
}

func newHarnessWithStore(t *testing.T, dataStore store.Store) *testHarness {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "test-key",
			"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}}})
	}))
	t.Cleanup(jwksServer.Close)

	resolver, err := identity.NewResolver(identity.Config{JWKSURL: jwksServer.URL})
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	appCore, err := app.New(app.Config{Store: dataStore})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	srv := httptest.NewServer(New(Config{App: appCore, Resolver: resolver}).Router())
	t.Cleanup(srv.Close)
	return &testHarness{server: srv, key: key}
}

func (h *testHarness) token(t *testing.T, sub, name string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub":   sub,
		"email": sub + "@campus.edu",
		"name":  name,
		"iss":   "campus-sso",
		"aud":   "campusfound",
		"exp":   time.Now().Add(time.Minute).Unix(),
		"iat":   time.Now().Unix(),
	})
	token.Header["kid"] = "test-key"
	signed, err := token.SignedString(h.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (h *testHarness) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	payload := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp, payload
}

func submitWalletReport(t *testing.T, h *testHarness, token string, itemType, description string) string {
	t.Helper()
	resp, payload := h.do(t, http.MethodPost, "/api/items", token, map[string]any{
		"type":         itemType,
		"title":        "Black Wallet",
		"description":  description,
		"category":     "accessories",
		"locationZone": "library",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit status = %d, body %v", resp.StatusCode, payload)
	}
	id, _ := payload["id"].(string)
	if id == "" {
		t.Fatalf("no item id in %v", payload)
	}
	return id
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	resp, payload := h.do(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK || payload["status"] != "ok" {
		t.Fatalf("healthz = %d %v", resp.StatusCode, payload)
	}
}

func TestAuthenticationRequired(t *testing.T) {
	h := newHarness(t)
	for _, path := range []string{"/api/items", "/api/chats", "/api/users/me"} {
		resp, _ := h.do(t, http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("GET %s without token = %d, want 401", path, resp.StatusCode)
		}
	}

	rogue, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rogue key: %v", err)
	}
	forged := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": "intruder",
		"iss": "campus-sso",
		"aud": "campusfound",
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	forged.Header["kid"] = "test-key"
	signed, err := forged.SignedString(rogue)
	if err != nil {
		t.Fatalf("sign forged token: %v", err)
	}
	resp, _ := h.do(t, http.MethodGet, "/api/users/me", signed, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("forged token = %d, want 401", resp.StatusCode)
	}
}

func TestMeSyncsProfileFromClaims(t *testing.T) {
	h := newHarness(t)
	resp, payload := h.do(t, http.MethodGet, "/api/users/me", h.token(t, "u1", "Ada"), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me = %d %v", resp.StatusCode, payload)
	}
	if payload["id"] != "u1" || payload["displayName"] != "Ada" {
		t.Fatalf("profile = %v", payload)
	}
	if payload["role"] != "user" {
		t.Fatalf("default role = %v, want user", payload["role"])
	}
}

func TestReportListingAndMatchesOverHTTP(t *testing.T) {
	h := newHarness(t)
	finderToken := h.token(t, "u1", "Finn")
	loserToken := h.token(t, "u2", "Lou")

	foundID := submitWalletReport(t, h, finderToken, "found", "Black leather wallet found near desk 4")
	lostID := submitWalletReport(t, h, loserToken, "lost", "Lost my black leather wallet yesterday")

	resp, payload := h.do(t, http.MethodGet, "/api/items", finderToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("listing = %d", resp.StatusCode)
	}
	if items, _ := payload["items"].([]any); len(items) != 2 {
		t.Fatalf("listing size = %v", payload["items"])
	}

	resp, payload = h.do(t, http.MethodGet, "/api/items/"+lostID+"/matches", loserToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("matches = %d", resp.StatusCode)
	}
	matches, _ := payload["matches"].([]any)
	if len(matches) != 1 {
		t.Fatalf("matches = %v", payload["matches"])
	}
	if m, _ := matches[0].(map[string]any); m["id"] != foundID {
		t.Fatalf("match id = %v, want %s", matches[0], foundID)
	}

	resp, _ = h.do(t, http.MethodGet, "/api/items/missing", finderToken, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing item = %d, want 404", resp.StatusCode)
	}

	resp, payload = h.do(t, http.MethodPost, "/api/items", finderToken, map[string]any{
		"type": "found", "title": "x", "description": "too short title", "category": "accessories", "locationZone": "library",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid report = %d %v, want 400", resp.StatusCode, payload)
	}
}

func TestChatAndClosureFlowOverHTTP(t *testing.T) {
	h := newHarness(t)
	finderToken := h.token(t, "u1", "Finn")
	loserToken := h.token(t, "u2", "Lou")

	foundID := submitWalletReport(t, h, finderToken, "found", "Black leather wallet found near desk 4")

	// Reporter cannot open a chat about their own item.
	resp, _ := h.do(t, http.MethodPost, "/api/chats", finderToken, map[string]any{"itemId": foundID})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("self contact = %d, want 403", resp.StatusCode)
	}

	resp, payload := h.do(t, http.MethodPost, "/api/chats", loserToken, map[string]any{"itemId": foundID})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start chat = %d %v", resp.StatusCode, payload)
	}
	chatID, _ := payload["id"].(string)
	if chatID == "" {
		t.Fatalf("no chat id in %v", payload)
	}

	// Re-opening lands on the same thread.
	resp, payload = h.do(t, http.MethodPost, "/api/chats", loserToken, map[string]any{"itemId": foundID})
	if resp.StatusCode != http.StatusCreated || payload["id"] != chatID {
		t.Fatalf("repeat start = %d %v", resp.StatusCode, payload)
	}

	messagesPath := fmt.Sprintf("/api/chats/%s/messages", chatID)
	resp, payload = h.do(t, http.MethodPost, messagesPath, loserToken, map[string]any{"content": "that's my wallet"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send message = %d %v", resp.StatusCode, payload)
	}
	outsiderToken := h.token(t, "u3", "Out")
	resp, _ = h.do(t, http.MethodGet, messagesPath, outsiderToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("outsider read = %d, want 403", resp.StatusCode)
	}

	closePath := fmt.Sprintf("/api/chats/%s/close", chatID)
	resp, payload = h.do(t, http.MethodPost, closePath, loserToken, nil)
	if resp.StatusCode != http.StatusOK || payload["status"] != "pending_closure" {
		t.Fatalf("request close = %d %v", resp.StatusCode, payload)
	}
	resp, payload = h.do(t, http.MethodPost, closePath, loserToken, nil)
	if resp.StatusCode != http.StatusOK || payload["awaitingOther"] != true {
		t.Fatalf("repeat request = %d %v", resp.StatusCode, payload)
	}
	resp, payload = h.do(t, http.MethodPost, closePath, finderToken, nil)
	if resp.StatusCode != http.StatusOK || payload["status"] != "closed" {
		t.Fatalf("confirm close = %d %v", resp.StatusCode, payload)
	}

	// The item is resolved and the chat refuses further messages.
	resp, payload = h.do(t, http.MethodGet, "/api/items/"+foundID, finderToken, nil)
	if resp.StatusCode != http.StatusOK || payload["status"] != "resolved" {
		t.Fatalf("item after close = %d %v", resp.StatusCode, payload)
	}
	resp, _ = h.do(t, http.MethodPost, messagesPath, loserToken, map[string]any{"content": "late"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("message after close = %d, want 409", resp.StatusCode)
	}

	// The finder's karma shows on their profile.
	resp, payload = h.do(t, http.MethodGet, "/api/users/me", finderToken, nil)
	if resp.StatusCode != http.StatusOK || payload["karmaPoints"] != float64(10) {
		t.Fatalf("finder profile = %d %v", resp.StatusCode, payload)
	}
}

func TestDirectResolveAndDeleteOverHTTP(t *testing.T) {
	h := newHarness(t)
	finderToken := h.token(t, "u1", "Finn")
	otherToken := h.token(t, "u2", "Other")

	foundID := submitWalletReport(t, h, finderToken, "found", "Black leather wallet found near desk 4")

	resp, _ := h.do(t, http.MethodPost, "/api/items/"+foundID+"/resolve", otherToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign resolve = %d, want 403", resp.StatusCode)
	}
	resp, _ = h.do(t, http.MethodPost, "/api/items/"+foundID+"/resolve", finderToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve = %d, want 200", resp.StatusCode)
	}
	resp, _ = h.do(t, http.MethodPost, "/api/items/"+foundID+"/resolve", finderToken, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("repeat resolve = %d, want 409", resp.StatusCode)
	}

	otherID := submitWalletReport(t, h, otherToken, "lost", "Lost a completely different wallet")
	resp, _ = h.do(t, http.MethodDelete, "/api/items/"+otherID, finderToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign delete = %d, want 403", resp.StatusCode)
	}
	resp, _ = h.do(t, http.MethodDelete, "/api/items/"+otherID, otherToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("own delete = %d, want 200", resp.StatusCode)
	}
	resp, _ = h.do(t, http.MethodGet, "/api/items/"+otherID, otherToken, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted item = %d, want 404", resp.StatusCode)
	}
}

func TestMineAndMyChatsRoutes(t *testing.T) {
	h := newHarness(t)
	finderToken := h.token(t, "u1", "Finn")
	loserToken := h.token(t, "u2", "Lou")
	foundID := submitWalletReport(t, h, finderToken, "found", "Black leather wallet found near desk 4")

	resp, payload := h.do(t, http.MethodGet, "/api/items/mine", finderToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mine = %d", resp.StatusCode)
	}
	items, _ := payload["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("mine size = %v", payload["items"])
	}

	if resp, _ := h.do(t, http.MethodPost, "/api/chats", loserToken, map[string]any{"itemId": foundID}); resp.StatusCode != http.StatusCreated {
		t.Fatalf("start chat = %d", resp.StatusCode)
	}
	resp, payload = h.do(t, http.MethodGet, "/api/chats", loserToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("my chats = %d", resp.StatusCode)
	}
	if chats, _ := payload["chats"].([]any); len(chats) != 1 {
		t.Fatalf("my chats size = %v", payload["chats"])
	}

	resp, _ = h.do(t, http.MethodPut, "/api/items", finderToken, nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("PUT items = %d, want 405", resp.StatusCode)
	}
}

// flakyStore fails one read path so handler error mapping can be observed
// end to end.
type flakyStore struct {
	*store.MemoryStore
}

func (f *flakyStore) ListItemsByReporter(string) ([]domain.Item, error) {
	return nil, errors.New("storage offline")
}

func TestStoreFailureMapsToOpaque500(t *testing.T) {
	h := newHarnessWithStore(t, &flakyStore{MemoryStore: store.NewMemoryStore()})
	resp, payload := h.do(t, http.MethodGet, "/api/items/mine", h.token(t, "u1", "Finn"), nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("mine with failing store = %d, want 500", resp.StatusCode)
	}
	if payload["error"] != "internal error" {
		t.Fatalf("error body = %v, want the opaque message", payload)
	}
}

func TestSecurityHeadersPresent(t *testing.T) {
	h := newHarness(t)
	resp, _ := h.do(t, http.MethodGet, "/healthz", "", nil)
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options = %q", got)
	}
	if got := resp.Header.Get("X-Request-Id"); strings.TrimSpace(got) == "" {
		t.Fatalf("request id header missing")
	}
}
