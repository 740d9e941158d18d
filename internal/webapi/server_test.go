package webapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/influelab/riskgate/internal/accounts"
	"github.com/influelab/riskgate/internal/aigateway"
	"github.com/influelab/riskgate/internal/identity"
	"github.com/influelab/riskgate/internal/payments"
	"github.com/influelab/riskgate/internal/store/gormstore"
	"github.com/influelab/riskgate/pkg/ledger"
)

const (
	testWebhookSecret = "test-webhook-secret"
	testTokenSecret   = "test-token-secret"
)

type failingAnalyzer struct{}

func (failingAnalyzer) AnalyzeImage(context.Context, []byte, string, string) (aigateway.Result, error) {
	return aigateway.Result{}, aigateway.ErrGatewayUnavailable
}

func (failingAnalyzer) AnalyzeText(context.Context, string) (aigateway.Result, error) {
	return aigateway.Result{}, aigateway.ErrGatewayUnavailable
}

type testEnv struct {
	server *httptest.Server
	client *http.Client
}

func newTestEnv(test *testing.T, provider payments.Provider, analyzer aigateway.Analyzer, adjust func(*Config)) *testEnv {
	test.Helper()

	db, cleanup, err := gormstore.Open(context.Background(), filepath.Join(test.TempDir(), "webapi_test.db"))
	if err != nil {
		test.Fatalf("open database: %v", err)
	}
	test.Cleanup(func() { _ = cleanup() })
	if err := gormstore.Migrate(db); err != nil {
		test.Fatalf("migrate: %v", err)
	}

	creditService, err := ledger.NewService(gormstore.NewLedgerStore(db))
	if err != nil {
		test.Fatalf("credit service: %v", err)
	}
	accountService, err := accounts.NewService(gormstore.NewAccountStore(db), creditService, creditService, zap.NewNop())
	if err != nil {
		test.Fatalf("account service: %v", err)
	}
	prices := payments.PriceTable{10: 2990, 20: 5490, 50: 11990}
	reconciler, err := payments.NewReconciler(gormstore.NewPurchaseStore(db), provider, prices, zap.NewNop())
	if err != nil {
		test.Fatalf("reconciler: %v", err)
	}
	tokens, err := identity.NewTokenCodec(testTokenSecret, time.Hour)
	if err != nil {
		test.Fatalf("token codec: %v", err)
	}

	cfg := Config{
		RatePerMinute:      1000,
		MinRequestInterval: -1,
	}
	if adjust != nil {
		adjust(&cfg)
	}
	server, err := NewServer(cfg, Dependencies{
		Logger:     zap.NewNop(),
		Credits:    creditService,
		Accounts:   accountService,
		Reconciler: reconciler,
		Analyzer:   analyzer,
		Tokens:     tokens,
		Prices:     prices,
	})
	if err != nil {
		test.Fatalf("new server: %v", err)
	}

	httpServer := httptest.NewServer(server.setupRouter())
	test.Cleanup(httpServer.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		test.Fatalf("cookie jar: %v", err)
	}
	client := &http.Client{Jar: jar}
	return &testEnv{server: httpServer, client: client}
}

func (env *testEnv) doJSON(test *testing.T, method string, path string, token string, payload any) (int, map[string]json.RawMessage) {
	test.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			test.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	request, err := http.NewRequest(method, env.server.URL+path, body)
	if err != nil {
		test.Fatalf("new request: %v", err)
	}
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := env.client.Do(request)
	if err != nil {
		test.Fatalf("request %s %s: %v", method, path, err)
	}
	defer response.Body.Close()

	decoded := map[string]json.RawMessage{}
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil && !errors.Is(err, io.EOF) {
		test.Fatalf("decode response: %v", err)
	}
	return response.StatusCode, decoded
}

func (env *testEnv) uploadPhoto(test *testing.T, filename string, content []byte) (int, map[string]json.RawMessage) {
	test.Helper()
	var buffer bytes.Buffer
	writer := multipart.NewWriter(&buffer)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		test.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		test.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		test.Fatalf("close multipart writer: %v", err)
	}

	request, err := http.NewRequest(http.MethodPost, env.server.URL+"/analyze/photo", &buffer)
	if err != nil {
		test.Fatalf("new request: %v", err)
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())
	response, err := env.client.Do(request)
	if err != nil {
		test.Fatalf("upload request: %v", err)
	}
	defer response.Body.Close()

	decoded := map[string]json.RawMessage{}
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil && !errors.Is(err, io.EOF) {
		test.Fatalf("decode response: %v", err)
	}
	return response.StatusCode, decoded
}

func intField(test *testing.T, fields map[string]json.RawMessage, key string) int64 {
	test.Helper()
	var value int64
	if err := json.Unmarshal(fields[key], &value); err != nil {
		test.Fatalf("field %q not an integer: %s", key, fields[key])
	}
	return value
}

func stringField(test *testing.T, fields map[string]json.RawMessage, key string) string {
	test.Helper()
	var value string
	if err := json.Unmarshal(fields[key], &value); err != nil {
		test.Fatalf("field %q not a string: %s", key, fields[key])
	}
	return value
}

func signWebhookBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestAnonymousTextAnalysisSpendsFreeCredits(test *testing.T) {
	env := newTestEnv(test, payments.NewMockProvider(), aigateway.NewStubAnalyzer(), nil)

	for round := 0; round < 3; round++ {
		status, fields := env.doJSON(test, http.MethodPost, "/analyze/text", "", map[string]string{"text": "launch post draft"})
		if status != http.StatusOK {
			test.Fatalf("round %d: expected 200, got %d (%v)", round, status, fields)
		}
		if stringField(test, fields, "funded_by") != "session" {
			test.Fatalf("round %d: expected session funding, got %s", round, fields["funded_by"])
		}
	}

	status, fields := env.doJSON(test, http.MethodPost, "/analyze/text", "", map[string]string{"text": "one too many"})
	if status != http.StatusPaymentRequired {
		test.Fatalf("expected 402 after free credits are gone, got %d (%v)", status, fields)
	}

	status, fields = env.doJSON(test, http.MethodGet, "/credits/status", "", nil)
	if status != http.StatusOK {
		test.Fatalf("credits status: %d", status)
	}
	if intField(test, fields, "session_credits") != 0 {
		test.Fatalf("expected 0 session credits, got %s", fields["session_credits"])
	}

	status, fields = env.doJSON(test, http.MethodGet, "/gate/login", "", nil)
	if status != http.StatusOK {
		test.Fatalf("gate login: %d", status)
	}
	var requireLogin bool
	if err := json.Unmarshal(fields["require_login"], &requireLogin); err != nil || !requireLogin {
		test.Fatalf("expected require_login true, got %s", fields["require_login"])
	}
}

func TestPhotoUploadRejectionsTouchNoCredit(test *testing.T) {
	env := newTestEnv(test, payments.NewMockProvider(), aigateway.NewStubAnalyzer(), nil)

	status, _ := env.uploadPhoto(test, "x.gif", []byte("GIF89a"))
	if status != http.StatusBadRequest {
		test.Fatalf("expected 400 for .gif upload, got %d", status)
	}

	oversized := bytes.Repeat([]byte{0xFF}, int(defaultMaxUploadBytes)+1)
	status, _ = env.uploadPhoto(test, "big.jpg", oversized)
	if status != http.StatusRequestEntityTooLarge {
		test.Fatalf("expected 413 for oversized upload, got %d", status)
	}

	status, fields := env.doJSON(test, http.MethodGet, "/credits/status", "", nil)
	if status != http.StatusOK {
		test.Fatalf("credits status: %d", status)
	}
	if intField(test, fields, "session_credits") != 3 {
		test.Fatalf("rejected uploads must not spend credits, got %s", fields["session_credits"])
	}
}

func TestPhotoUploadSucceeds(test *testing.T) {
	env := newTestEnv(test, payments.NewMockProvider(), aigateway.NewStubAnalyzer(), nil)

	status, fields := env.uploadPhoto(test, "post.jpg", []byte{0xFF, 0xD8, 0xFF})
	if status != http.StatusOK {
		test.Fatalf("expected 200, got %d (%v)", status, fields)
	}
	if intField(test, fields, "score_risk") != 12 {
		test.Fatalf("unexpected score: %s", fields["score_risk"])
	}
}

func TestEmptyTextRejected(test *testing.T) {
	env := newTestEnv(test, payments.NewMockProvider(), aigateway.NewStubAnalyzer(), nil)

	status, _ := env.doJSON(test, http.MethodPost, "/analyze/text", "", map[string]string{"text": "   "})
	if status != http.StatusBadRequest {
		test.Fatalf("expected 400 for empty text, got %d", status)
	}
}

func TestGatewayFailureSpendsCreditWithoutRefund(test *testing.T) {
	env := newTestEnv(test, payments.NewMockProvider(), failingAnalyzer{}, nil)

	status, _ := env.doJSON(test, http.MethodPost, "/analyze/text", "", map[string]string{"text": "doomed"})
	if status != http.StatusBadGateway {
		test.Fatalf("expected 502, got %d", status)
	}

	status, fields := env.doJSON(test, http.MethodGet, "/credits/status", "", nil)
	if status != http.StatusOK {
		test.Fatalf("credits status: %d", status)
	}
	if intField(test, fields, "session_credits") != 2 {
		test.Fatalf("expected spent credit to stay spent, got %s", fields["session_credits"])
	}
}

func TestRegisterMigratesSessionCredits(test *testing.T) {
	env := newTestEnv(test, payments.NewMockProvider(), aigateway.NewStubAnalyzer(), nil)

	status, _ := env.doJSON(test, http.MethodPost, "/analyze/text", "", map[string]string{"text": "spend one"})
	if status != http.StatusOK {
		test.Fatalf("warmup analysis: %d", status)
	}

	status, fields := env.doJSON(test, http.MethodPost, "/auth/register", "", map[string]string{
		"email":    "grace@example.com",
		"password": "correct horse",
	})
	if status != http.StatusCreated {
		test.Fatalf("expected 201, got %d (%v)", status, fields)
	}
	if intField(test, fields, "migrated_credits") != 2 {
		test.Fatalf("expected 2 migrated credits, got %s", fields["migrated_credits"])
	}
	token := stringField(test, fields, "token")

	status, fields = env.doJSON(test, http.MethodGet, "/credits/status", token, nil)
	if status != http.StatusOK {
		test.Fatalf("credits status: %d", status)
	}
	if intField(test, fields, "user_credits") != 2 {
		test.Fatalf("expected 2 user credits after migration, got %s", fields["user_credits"])
	}
	if intField(test, fields, "session_credits") != 0 {
		test.Fatalf("expected drained session, got %s", fields["session_credits"])
	}

	status, _ = env.doJSON(test, http.MethodPost, "/auth/register", "", map[string]string{
		"email":    "grace@example.com",
		"password": "correct horse",
	})
	if status != http.StatusConflict {
		test.Fatalf("expected 409 for duplicate email, got %d", status)
	}
}

func TestLoginAndProfile(test *testing.T) {
	env := newTestEnv(test, payments.NewMockProvider(), aigateway.NewStubAnalyzer(), nil)

	status, _ := env.doJSON(test, http.MethodPost, "/auth/register", "", map[string]string{
		"email":    "henry@example.com",
		"password": "correct horse",
	})
	if status != http.StatusCreated {
		test.Fatalf("register: %d", status)
	}

	status, _ = env.doJSON(test, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "henry@example.com",
		"password": "wrong password",
	})
	if status != http.StatusUnauthorized {
		test.Fatalf("expected 401 for bad password, got %d", status)
	}

	status, fields := env.doJSON(test, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "HENRY@example.com",
		"password": "correct horse",
	})
	if status != http.StatusOK {
		test.Fatalf("login: %d (%v)", status, fields)
	}
	token := stringField(test, fields, "token")

	status, fields = env.doJSON(test, http.MethodPost, "/analyze/text", token, map[string]string{"text": "funded by account"})
	if status != http.StatusOK {
		test.Fatalf("analysis: %d", status)
	}
	if stringField(test, fields, "funded_by") != "user" {
		test.Fatalf("expected user funding, got %s", fields["funded_by"])
	}

	status, fields = env.doJSON(test, http.MethodGet, "/user/profile", token, nil)
	if status != http.StatusOK {
		test.Fatalf("profile: %d", status)
	}
	var analyses []map[string]any
	if err := json.Unmarshal(fields["analyses"], &analyses); err != nil {
		test.Fatalf("decode analyses: %v", err)
	}
	if len(analyses) != 1 {
		test.Fatalf("expected 1 analysis in history, got %d", len(analyses))
	}

	status, _ = env.doJSON(test, http.MethodGet, "/user/profile", "", nil)
	if status != http.StatusUnauthorized {
		test.Fatalf("expected 401 without token, got %d", status)
	}
}

func TestPurchaseWithMockProviderSettlesImmediately(test *testing.T) {
	env := newTestEnv(test, payments.NewMockProvider(), aigateway.NewStubAnalyzer(), nil)

	status, _ := env.doJSON(test, http.MethodPost, "/purchase", "", map[string]int64{"package": 10})
	if status != http.StatusUnauthorized {
		test.Fatalf("expected 401 without account, got %d", status)
	}

	status, fields := env.doJSON(test, http.MethodPost, "/auth/register", "", map[string]string{
		"email":    "iris@example.com",
		"password": "correct horse",
	})
	if status != http.StatusCreated {
		test.Fatalf("register: %d", status)
	}
	token := stringField(test, fields, "token")

	status, fields = env.doJSON(test, http.MethodPost, "/purchase", token, map[string]int64{"package": 13})
	if status != http.StatusBadRequest {
		test.Fatalf("expected 400 for unknown package, got %d (%v)", status, fields)
	}

	status, fields = env.doJSON(test, http.MethodPost, "/purchase", token, map[string]int64{"package": 10})
	if status != http.StatusOK {
		test.Fatalf("purchase: %d (%v)", status, fields)
	}
	if stringField(test, fields, "status") != "paid" {
		test.Fatalf("expected immediate settlement, got %s", fields["status"])
	}

	status, fields = env.doJSON(test, http.MethodGet, "/credits/status", token, nil)
	if status != http.StatusOK {
		test.Fatalf("credits status: %d", status)
	}
	if intField(test, fields, "user_credits") != 13 {
		test.Fatalf("expected 3 migrated + 10 purchased credits, got %s", fields["user_credits"])
	}
}

func TestWebhookLifecycleOverHTTP(test *testing.T) {
	env := newTestEnv(test, payments.NewLiveProvider(testWebhookSecret, "https://pay.example.com"), aigateway.NewStubAnalyzer(), nil)

	status, fields := env.doJSON(test, http.MethodPost, "/auth/register", "", map[string]string{
		"email":    "judy@example.com",
		"password": "correct horse",
	})
	if status != http.StatusCreated {
		test.Fatalf("register: %d", status)
	}
	token := stringField(test, fields, "token")

	status, fields = env.doJSON(test, http.MethodPost, "/purchase", token, map[string]int64{"package": 20})
	if status != http.StatusOK {
		test.Fatalf("purchase: %d (%v)", status, fields)
	}
	if stringField(test, fields, "status") != "pending" {
		test.Fatalf("expected pending live purchase, got %s", fields["status"])
	}
	providerRef := stringField(test, fields, "provider_ref")

	body := []byte(fmt.Sprintf(`{"reference_id":%q,"status":"APPROVED"}`, providerRef))

	postWebhook := func(signature string) (int, map[string]json.RawMessage) {
		request, err := http.NewRequest(http.MethodPost, env.server.URL+"/webhooks/payment", bytes.NewReader(body))
		if err != nil {
			test.Fatalf("new request: %v", err)
		}
		request.Header.Set("Content-Type", "application/json")
		request.Header.Set(signatureHeader, signature)
		response, err := env.client.Do(request)
		if err != nil {
			test.Fatalf("webhook request: %v", err)
		}
		defer response.Body.Close()
		decoded := map[string]json.RawMessage{}
		if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil && !errors.Is(err, io.EOF) {
			test.Fatalf("decode webhook response: %v", err)
		}
		return response.StatusCode, decoded
	}

	status, _ = postWebhook("deadbeef")
	if status != http.StatusBadRequest {
		test.Fatalf("expected 400 for bad signature, got %d", status)
	}

	status, fields = postWebhook(signWebhookBody(body))
	if status != http.StatusOK || stringField(test, fields, "outcome") != "credited" {
		test.Fatalf("expected credited, got %d (%v)", status, fields)
	}

	status, fields = postWebhook(signWebhookBody(body))
	if status != http.StatusOK || stringField(test, fields, "outcome") != "duplicate" {
		test.Fatalf("expected duplicate on replay, got %d (%v)", status, fields)
	}

	status, fields = env.doJSON(test, http.MethodGet, "/credits/status", token, nil)
	if status != http.StatusOK {
		test.Fatalf("credits status: %d", status)
	}
	if intField(test, fields, "user_credits") != 23 {
		test.Fatalf("expected 3 migrated + 20 credited once, got %s", fields["user_credits"])
	}
}

func TestUnverifiableTokenFallsBackToSession(test *testing.T) {
	env := newTestEnv(test, payments.NewMockProvider(), aigateway.NewStubAnalyzer(), nil)

	status, fields := env.doJSON(test, http.MethodPost, "/analyze/text", "not-a-valid-token", map[string]string{"text": "stale client token"})
	if status != http.StatusOK {
		test.Fatalf("expected 200 funded by the session, got %d (%v)", status, fields)
	}
	if stringField(test, fields, "funded_by") != "session" {
		test.Fatalf("expected session funding, got %s", fields["funded_by"])
	}

	status, _ = env.doJSON(test, http.MethodGet, "/user/profile", "not-a-valid-token", nil)
	if status != http.StatusUnauthorized {
		test.Fatalf("account endpoints still require a valid token, got %d", status)
	}
}

func TestRateLimitBudgetCoversAnalyzeOnly(test *testing.T) {
	env := newTestEnv(test, payments.NewMockProvider(), aigateway.NewStubAnalyzer(), func(cfg *Config) {
		cfg.RatePerMinute = 2
	})

	for round := 0; round < 2; round++ {
		status, _ := env.doJSON(test, http.MethodPost, "/analyze/text", "", map[string]string{"text": "within budget"})
		if status != http.StatusOK {
			test.Fatalf("round %d: expected 200, got %d", round, status)
		}
	}
	status, _ := env.doJSON(test, http.MethodPost, "/analyze/text", "", map[string]string{"text": "over budget"})
	if status != http.StatusTooManyRequests {
		test.Fatalf("expected 429 over budget, got %d", status)
	}

	// Polling endpoints share no budget with the analyze routes.
	for round := 0; round < 4; round++ {
		status, _ := env.doJSON(test, http.MethodGet, "/credits/status", "", nil)
		if status != http.StatusOK {
			test.Fatalf("credits status round %d: expected 200, got %d", round, status)
		}
		status, _ = env.doJSON(test, http.MethodGet, "/gate/login", "", nil)
		if status != http.StatusOK {
			test.Fatalf("gate login round %d: expected 200, got %d", round, status)
		}
	}
}
