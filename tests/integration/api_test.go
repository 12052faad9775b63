package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	httpHandler "adcoin-ledger/internal/adapter/http/handler"
	redisStorage "adcoin-ledger/internal/adapter/storage/redis"
	"adcoin-ledger/internal/core/domain"
	"adcoin-ledger/internal/service"
	"adcoin-ledger/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testApp builds the full application stack over in-memory stores and
// miniredis. It exercises the real HTTP layer, middleware, handlers,
// services and Redis stores end-to-end.

type testApp struct {
	server   *httptest.Server
	redis    *miniredis.Miniredis
	accounts *inMemoryAccountStore
	parts    *inMemoryParticipantRepo
	hashSvc  *service.Argon2HashService
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	accounts := newInMemoryAccountStore()
	ledger := newInMemoryLedger()
	idempRepo := newInMemoryIdempotencyRepo()
	parts := newInMemoryParticipantRepo()
	transactor := newInMemoryTransactor()

	hashSvc := service.NewArgon2HashService()
	tokenSvc := service.NewJWTTokenService("test-jwt-secret-key-32bytes!!", 24*time.Hour, "test-issuer")
	gateSvc := service.NewGateService(parts, hashSvc)

	log := logger.New("debug", false)
	authSvc := service.NewAuthService(parts, hashSvc, tokenSvc)
	transferSvc := service.NewTransferService(
		accounts, ledger, idempRepo,
		redisStorage.NewIdempotencyCache(rdb),
		gateSvc, transactor,
		5, time.Millisecond, time.Hour, log,
	)
	historySvc := service.NewHistoryService(accounts, ledger, parts)

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		AuthSvc:        authSvc,
		TransferSvc:    transferSvc,
		HistorySvc:     historySvc,
		TokenSvc:       tokenSvc,
		RateLimitStore: redisStorage.NewRateLimitStore(rdb),
		Logger:         log,
	})

	return &testApp{
		server:   httptest.NewServer(router),
		redis:    mr,
		accounts: accounts,
		parts:    parts,
		hashSvc:  hashSvc,
	}
}

func (a *testApp) close() {
	a.server.Close()
	a.redis.Close()
}

// seedParticipant creates a directory entry plus its account.
func (a *testApp) seedParticipant(t *testing.T, ref domain.AccountRef, name, username, secret string, balance int64) {
	t.Helper()
	hash, err := a.hashSvc.Hash(secret)
	require.NoError(t, err)

	p := &domain.Participant{Ref: ref, Name: name, Level: 1, PasswordHash: hash}
	if username != "" {
		p.Username = &username
	}
	ctx := context.Background()
	require.NoError(t, a.parts.Create(ctx, p))
	require.NoError(t, a.accounts.Create(ctx, &domain.Account{Ref: ref, Balance: balance}))
}

func (a *testApp) login(t *testing.T, username, password string) string {
	t.Helper()
	body := fmt.Sprintf(`{"username":%q,"password":%q}`, username, password)
	resp, err := http.Post(a.server.URL+"/api/v1/auth/login", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.NotEmpty(t, result.Data.Token)
	return result.Data.Token
}

func (a *testApp) do(t *testing.T, method, path, token, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

// --- Integration Tests ---

func TestIntegration_HealthCheck(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	resp, err := http.Get(app.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestIntegration_LoginRejectsBadPassword(t *testing.T) {
	app := newTestApp(t)
	defer app.close()
	app.seedParticipant(t, coach, "Coach Kim", "coach", "StaffPass123", 500)

	body := `{"username":"coach","password":"wrong"}`
	resp, err := http.Post(app.server.URL+"/api/v1/auth/login", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestIntegration_TransferRequiresToken(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	resp, decoded := app.do(t, http.MethodPost, "/api/v1/transfers", "", `{}`)

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "AUTH_002", decoded["error_code"])
}

func TestIntegration_AwardFlow(t *testing.T) {
	app := newTestApp(t)
	defer app.close()
	app.seedParticipant(t, coach, "Coach Kim", "coach", "StaffPass123", 500)
	app.seedParticipant(t, alice, "Alice", "", "1234", 100)

	token := app.login(t, "coach", "StaffPass123")

	// Coach awards 25 AdCoin to Alice.
	body := `{
		"initiator": {"kind":"staff","id":"coach"},
		"credential": "StaffPass123",
		"type": "teacher_award",
		"sender": {"kind":"staff","id":"coach"},
		"receiver": {"kind":"student","id":"alice"},
		"amount": 25,
		"message": "great progress this week"
	}`
	resp, decoded := app.do(t, http.MethodPost, "/api/v1/transfers", token, body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	data := decoded["data"].(map[string]interface{})
	assert.Equal(t, "teacher_award", data["type"])
	assert.Equal(t, "committed", data["status"])
	assert.Nil(t, data["sender"], "awards only credit the receiver")

	// Balance reflects the award.
	resp, decoded = app.do(t, http.MethodGet, "/api/v1/accounts/student/alice/balance", token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(125), decoded["data"].(map[string]interface{})["balance"])

	// History shows the award with the receiver resolved.
	resp, decoded = app.do(t, http.MethodGet, "/api/v1/accounts/student/alice/transactions", token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listData := decoded["data"].(map[string]interface{})
	items := listData["items"].([]interface{})
	require.Len(t, items, 1)
	first := items[0].(map[string]interface{})
	assert.Equal(t, "Alice", first["receiver"].(map[string]interface{})["name"])

	// Replaying the full ledger agrees with the stored balance.
	resp, decoded = app.do(t, http.MethodGet, "/api/v1/accounts/student/alice/reconcile", token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	recon := decoded["data"].(map[string]interface{})
	assert.Equal(t, true, recon["match"])
	assert.Equal(t, float64(125), recon["replayed"])
}

func TestIntegration_StudentTransferWithWrongPIN(t *testing.T) {
	app := newTestApp(t)
	defer app.close()
	app.seedParticipant(t, coach, "Coach Kim", "coach", "StaffPass123", 500)
	app.seedParticipant(t, alice, "Alice", "", "1234", 100)
	app.seedParticipant(t, bob, "Bob", "", "4321", 50)

	token := app.login(t, "coach", "StaffPass123")

	body := `{
		"initiator": {"kind":"student","id":"bob"},
		"credential": "0000",
		"type": "transfer",
		"sender": {"kind":"student","id":"bob"},
		"receiver": {"kind":"student","id":"alice"},
		"amount": 10
	}`
	resp, decoded := app.do(t, http.MethodPost, "/api/v1/transfers", token, body)

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "AUTH_001", decoded["error_code"])

	// Nothing moved.
	resp, decoded = app.do(t, http.MethodGet, "/api/v1/accounts/student/bob/balance", token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(50), decoded["data"].(map[string]interface{})["balance"])
}

func TestIntegration_StudentTransferFlow(t *testing.T) {
	app := newTestApp(t)
	defer app.close()
	app.seedParticipant(t, coach, "Coach Kim", "coach", "StaffPass123", 500)
	app.seedParticipant(t, alice, "Alice", "", "1234", 100)
	app.seedParticipant(t, bob, "Bob", "", "4321", 50)

	token := app.login(t, "coach", "StaffPass123")

	body := `{
		"initiator": {"kind":"student","id":"bob"},
		"credential": "4321",
		"type": "transfer",
		"sender": {"kind":"student","id":"bob"},
		"receiver": {"kind":"student","id":"alice"},
		"amount": 30,
		"idempotency_key": "gift-1"
	}`
	resp, decoded := app.do(t, http.MethodPost, "/api/v1/transfers", token, body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	firstID := decoded["data"].(map[string]interface{})["id"]

	// Resubmitting the same idempotency key replays the original result.
	resp, decoded = app.do(t, http.MethodPost, "/api/v1/transfers", token, body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, firstID, decoded["data"].(map[string]interface{})["id"])

	resp, decoded = app.do(t, http.MethodGet, "/api/v1/accounts/student/bob/balance", token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(20), decoded["data"].(map[string]interface{})["balance"])

	resp, decoded = app.do(t, http.MethodGet, "/api/v1/accounts/student/alice/balance", token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(130), decoded["data"].(map[string]interface{})["balance"])
}

func TestIntegration_InsufficientBalanceSurfacesTypedError(t *testing.T) {
	app := newTestApp(t)
	defer app.close()
	app.seedParticipant(t, coach, "Coach Kim", "coach", "StaffPass123", 500)
	app.seedParticipant(t, alice, "Alice", "", "1234", 100)
	app.seedParticipant(t, bob, "Bob", "", "4321", 50)

	token := app.login(t, "coach", "StaffPass123")

	body := `{
		"initiator": {"kind":"student","id":"bob"},
		"credential": "4321",
		"type": "transfer",
		"sender": {"kind":"student","id":"bob"},
		"receiver": {"kind":"student","id":"alice"},
		"amount": 9999
	}`
	resp, decoded := app.do(t, http.MethodPost, "/api/v1/transfers", token, body)

	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, "LGR_004", decoded["error_code"])
}
