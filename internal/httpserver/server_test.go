package httpserver

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"satchat/internal/logging"
	"satchat/internal/metrics"
	"satchat/internal/repo"
	"satchat/internal/twilio"
	"satchat/migrations"
)

func signTwilio(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, key := range keys {
		for _, val := range params[key] {
			b.WriteString(key)
			b.WriteString(val)
		}
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type echoEngine struct{}

func (echoEngine) HandleMessage(ctx context.Context, phoneNumber, body string) string {
	return "echo:" + phoneNumber + ":" + body
}

type stubMaintainer struct {
	unlocked int64
	removed  int64
	err      error
}

func (m *stubMaintainer) Cleanup(ctx context.Context) (int64, int64, error) {
	return m.unlocked, m.removed, m.err
}

func newTestServer(t *testing.T, cfg Config, deps Dependencies) http.Handler {
	t.Helper()
	if deps.Store == nil {
		ctx := context.Background()
		store, err := repo.NewSQLite(ctx, ":memory:", logging.Discard())
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(store.Close)
		if err := store.RunMigrations(ctx, migrations.SQLite()); err != nil {
			t.Fatalf("run migrations: %v", err)
		}
		deps.Store = store
	}
	if deps.Engine == nil {
		deps.Engine = echoEngine{}
	}
	if deps.Maintainer == nil {
		deps.Maintainer = &stubMaintainer{}
	}
	srv := New(cfg, logging.Discard(), metrics.Registry("satchat"), Handlers{}, deps)
	return srv.Handler()
}

func TestHealthz(t *testing.T) {
	h := newTestServer(t, Config{}, Dependencies{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestLanding(t *testing.T) {
	h := newTestServer(t, Config{}, Dependencies{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "SatChat") {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Send 0.001 BTC") {
		t.Fatalf("command help missing: %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown path status = %d", rec.Code)
	}
}

func TestTwilioWebhookRepliesTwiML(t *testing.T) {
	h := newTestServer(t, Config{}, Dependencies{})

	form := url.Values{
		"From": {"whatsapp:+254712345678"},
		"Body": {"balance"},
	}
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/xml" {
		t.Fatalf("content type = %q", got)
	}
	if !strings.Contains(rec.Body.String(), "<Message>echo:+254712345678:balance</Message>") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestTwilioWebhookSignatureEnforced(t *testing.T) {
	validator := twilio.NewRequestValidator("token")
	h := newTestServer(t, Config{PublicBaseURL: "https://bot.example.com"}, Dependencies{Validator: validator})

	form := url.Values{
		"From": {"whatsapp:+254712345678"},
		"Body": {"balance"},
	}

	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", "bogus")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("forged signature status = %d, want 401", rec.Code)
	}

	// A correctly signed request goes through.
	signature := signTwilio("token", "https://bot.example.com/webhook/twilio", form)
	req = httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", signature)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("signed request status = %d", rec.Code)
	}
}

func TestTwilioWebhookMissingSender(t *testing.T) {
	h := newTestServer(t, Config{}, Dependencies{})

	form := url.Values{"Body": {"hi"}}
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCleanupRequiresAdminToken(t *testing.T) {
	maintainer := &stubMaintainer{unlocked: 2, removed: 5}
	h := newTestServer(t, Config{AdminToken: "sekrit"}, Dependencies{Maintainer: maintainer})

	req := httptest.NewRequest(http.MethodPost, "/admin/cleanup", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/cleanup", nil)
	req.Header.Set("X-Admin-Token", "sekrit")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authorized status = %d", rec.Code)
	}

	var result struct {
		Status   string `json:"status"`
		Unlocked int64  `json:"unlocked_users"`
		Expired  int64  `json:"expired_otps"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Status != "ok" || result.Unlocked != 2 || result.Expired != 5 {
		t.Fatalf("result = %+v", result)
	}
}

func TestCleanupDisabledWithoutConfiguredToken(t *testing.T) {
	h := newTestServer(t, Config{}, Dependencies{})

	req := httptest.NewRequest(http.MethodPost, "/admin/cleanup", nil)
	req.Header.Set("X-Admin-Token", "")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 when no token configured", rec.Code)
	}
}

func TestStats(t *testing.T) {
	h := newTestServer(t, Config{}, Dependencies{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var stats repo.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalUsers != 0 || stats.TotalTransactions != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestBasePathMounting(t *testing.T) {
	h := newTestServer(t, Config{BasePath: "bot"}, Dependencies{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bot/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("prefixed health status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unprefixed path status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/botany/healthz", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("prefix-collision path status = %d, want 404", rec.Code)
	}
}
