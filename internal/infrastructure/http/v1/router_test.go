package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quartermaster/internal/core/apperror"
	appctx "quartermaster/internal/core/context"
	"quartermaster/internal/core/id"
	"quartermaster/internal/core/numerator"
	"quartermaster/internal/core/security"
	"quartermaster/internal/domain/auth"
	"quartermaster/internal/domain/boq"
	"quartermaster/internal/domain/custody"
	"quartermaster/internal/domain/ledger"
	"quartermaster/internal/domain/reserve"
	"quartermaster/internal/infrastructure/cache"
	"quartermaster/internal/infrastructure/http/v1/dto"
	"quartermaster/internal/infrastructure/http/v1/handlers"
	"quartermaster/internal/infrastructure/http/v1/middleware"
	"quartermaster/internal/infrastructure/storage/memory"
	"quartermaster/pkg/logger"
)

// memoryIdempotency is a map-backed middleware.IdempotencyStore.
type memoryIdempotency struct {
	mu      sync.Mutex
	pending map[string]cache.IdempotencyRequest
	done    map[string]cache.IdempotencyReplay
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{
		pending: map[string]cache.IdempotencyRequest{},
		done:    map[string]cache.IdempotencyReplay{},
	}
}

func (m *memoryIdempotency) Acquire(_ context.Context, key string, req cache.IdempotencyRequest) (*cache.IdempotencyReplay, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stored, ok := m.pending[key]; ok {
		if stored != req {
			return nil, apperror.NewIdempotencyConflict(key, "different request")
		}
		if replay, ok := m.done[key]; ok {
			return &replay, nil
		}
		return nil, apperror.NewIdempotencyConflict(key, "in progress")
	}
	m.pending[key] = req
	return nil, nil
}

func (m *memoryIdempotency) Complete(_ context.Context, key string, _ cache.IdempotencyRequest, replay cache.IdempotencyReplay) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done[key] = replay
	return nil
}

func (m *memoryIdempotency) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, key)
	return nil
}

var _ middleware.IdempotencyStore = (*memoryIdempotency)(nil)

type apiFixture struct {
	router    http.Handler
	jwt       *auth.JWTService
	warehouse id.ID
	item      id.ID
	worker    id.ID
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	store := memory.NewStore()
	txm := memory.NewTxManager(store)
	policy := security.MustCELPolicy("")
	gen := numerator.NewMemoryGenerator()

	ledgerSvc := ledger.NewService(memory.NewLedgerRepo(store), txm, ledger.DefaultThresholds(), nil, nil)
	workers := memory.NewWorkerRepo(store)
	f := &apiFixture{
		jwt:       auth.NewJWTService(auth.DefaultJWTConfig("test-secret")),
		warehouse: id.New(),
		item:      id.New(),
		worker:    id.New(),
	}
	require.NoError(t, workers.Save(context.Background(), &custody.Worker{ID: f.worker, Name: "Sapper", DepartmentID: id.New(), Active: true}))

	f.router = NewRouter(RouterConfig{
		Logger:         logger.Nop(),
		JWTValidator:   f.jwt,
		Idempotency:    newMemoryIdempotency(),
		Health:         handlers.NewHealthHandler("test", "memory", nil),
		Ledger:         ledgerSvc,
		Reserve:        reserve.NewService(ledgerSvc, policy, txm),
		Custody:        custody.NewService(memory.NewCustodyRepo(store), workers, ledgerSvc, gen, txm, nil),
		BOQ:            boq.NewService(memory.NewBOQRepo(store), ledgerSvc, policy, gen, txm, nil),
		Authorizer:     policy,
		CustodyMaxDays: 30,
	})
	return f
}

func (f *apiFixture) token(t *testing.T, roles ...string) string {
	t.Helper()
	tok, _, err := f.jwt.GenerateAccessToken(&appctx.UserContext{UserID: "u-" + roles[0], Roles: roles})
	require.NoError(t, err)
	return tok
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) entryPath(suffix string) string {
	return "/api/v1/ledger/" + f.warehouse.String() + "/" + f.item.String() + suffix
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestRouter_HealthIsPublic(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))
}

func TestRouter_RequiresBearerToken(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, f.entryPath(""), "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, apperror.CodeUnauthorized, decode[dto.ErrorResponse](t, w).Code)

	w = f.do(t, http.MethodGet, f.entryPath(""), "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_ReceiveAndReadAvailability(t *testing.T) {
	f := newAPIFixture(t)
	keeper := f.token(t, security.RoleStorekeeper)
	commander := f.token(t, security.RoleCommander)
	body := map[string]any{
		"generalQuantity": 100,
		"reserveQuantity": "20.5",
	}

	w := f.do(t, http.MethodPost, f.entryPath("/receive"), keeper, body)
	require.Equal(t, http.StatusForbidden, w.Code, "reserve receipt needs reserve access")

	w = f.do(t, http.MethodPost, f.entryPath("/receive"), commander, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	entry := decode[ledger.Entry](t, w)
	assert.Equal(t, "120.5000", entry.TotalQuantity.String())

	w = f.do(t, http.MethodGet, f.entryPath("/availability"), keeper, nil)
	require.Equal(t, http.StatusOK, w.Code)
	availability := decode[ledger.Availability](t, w)
	assert.Equal(t, "100.0000", availability.AvailableGeneral.String())
	assert.Equal(t, "20.5000", availability.AvailableReserve.String())
}

func TestRouter_LedgerViolationsMapToStatusCodes(t *testing.T) {
	f := newAPIFixture(t)
	keeper := f.token(t, security.RoleStorekeeper)
	commander := f.token(t, security.RoleCommander)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, f.entryPath("/receive"), commander, map[string]any{"generalQuantity": 5, "reserveQuantity": 5}).Code)

	w := f.do(t, http.MethodPost, f.entryPath("/allocate"), keeper, map[string]any{"quantity": 6})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode[dto.ErrorResponse](t, w)
	assert.Equal(t, apperror.CodeInsufficientAvailability, body.Code)
	assert.Equal(t, "5.0000", body.Details["available"])

	w = f.do(t, http.MethodPost, f.entryPath("/allocate"), keeper, map[string]any{"pool": "reserve", "quantity": 1})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPost, f.entryPath("/allocate"), commander, map[string]any{"pool": "reserve", "quantity": 1})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestRouter_ReceiveOutOfRangeIsBadRequest(t *testing.T) {
	f := newAPIFixture(t)
	keeper := f.token(t, security.RoleStorekeeper)

	w := f.do(t, http.MethodPost, f.entryPath("/receive"), keeper, json.RawMessage(`{"generalQuantity": 2000000000000000}`))
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet, f.entryPath(""), keeper, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "nothing was booked")
}

func TestRouter_ThresholdsGateMinimumReserve(t *testing.T) {
	f := newAPIFixture(t)
	keeper := f.token(t, security.RoleStorekeeper)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, f.entryPath("/receive"), keeper, map[string]any{"generalQuantity": 50}).Code)

	w := f.do(t, http.MethodPut, f.entryPath("/thresholds"), keeper, map[string]any{"reorderPoint": 20, "minimumReserve": 0})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodPut, f.entryPath("/thresholds"), keeper, map[string]any{"reorderPoint": 20, "minimumReserve": 5})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRouter_RoleGate(t *testing.T) {
	f := newAPIFixture(t)
	requester := f.token(t, "requester")

	w := f.do(t, http.MethodPost, f.entryPath("/receive"), requester, map[string]any{"generalQuantity": 1})
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, apperror.CodeForbidden, decode[dto.ErrorResponse](t, w).Code)
}

func TestRouter_PermissionOpensGate(t *testing.T) {
	f := newAPIFixture(t)
	tok, _, err := f.jwt.GenerateAccessToken(&appctx.UserContext{
		UserID:      "clerk",
		Roles:       []string{"requester"},
		Permissions: []string{security.PermissionStockWrite},
	})
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, f.entryPath("/receive"), tok, map[string]any{"generalQuantity": 1})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestRouter_IdempotentReplay(t *testing.T) {
	f := newAPIFixture(t)
	keeper := f.token(t, security.RoleStorekeeper)
	body := map[string]any{"generalQuantity": 10}

	first := f.do(t, http.MethodPost, f.entryPath("/receive"), keeper, body, middleware.HeaderIdempotencyKey, "rcv-1")
	require.Equal(t, http.StatusOK, first.Code)

	second := f.do(t, http.MethodPost, f.entryPath("/receive"), keeper, body, middleware.HeaderIdempotencyKey, "rcv-1")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replay"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	w := f.do(t, http.MethodGet, f.entryPath(""), keeper, nil)
	assert.Equal(t, "10.0000", decode[ledger.Entry](t, w).TotalQuantity.String())

	conflict := f.do(t, http.MethodPost, f.entryPath("/receive"), keeper, map[string]any{"generalQuantity": 11}, middleware.HeaderIdempotencyKey, "rcv-1")
	assert.Equal(t, http.StatusConflict, conflict.Code)
}

func TestRouter_FailedRequestReleasesIdempotencyKey(t *testing.T) {
	f := newAPIFixture(t)
	keeper := f.token(t, security.RoleStorekeeper)

	w := f.do(t, http.MethodPost, f.entryPath("/allocate"), keeper, map[string]any{"quantity": 1}, middleware.HeaderIdempotencyKey, "alloc-1")
	require.Equal(t, http.StatusNotFound, w.Code)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, f.entryPath("/receive"), keeper, map[string]any{"generalQuantity": 3}).Code)

	w = f.do(t, http.MethodPost, f.entryPath("/allocate"), keeper, map[string]any{"quantity": 1}, middleware.HeaderIdempotencyKey, "alloc-1")
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestRouter_BOQIssueSplitsRemainder(t *testing.T) {
	f := newAPIFixture(t)
	keeper := f.token(t, security.RoleStorekeeper)
	commander := f.token(t, security.RoleCommander)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, f.entryPath("/receive"), keeper, map[string]any{"generalQuantity": 6}).Code)

	w := f.do(t, http.MethodPost, "/api/v1/boq", keeper, map[string]any{
		"projectName": "Bridge",
		"warehouseId": f.warehouse.String(),
		"lines": []map[string]any{
			{"itemId": f.item.String(), "requestedQuantity": 10, "unitPrice": "2.5"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[dto.BOQResponse](t, w)
	assert.Equal(t, "25", created.TotalAmount.String())
	path := "/api/v1/boq/" + created.ID.String()

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, path+"/submit", keeper, nil).Code)
	require.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, path+"/approve", keeper, nil).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, path+"/approve", commander, nil).Code)

	w = f.do(t, http.MethodPost, path+"/issue", keeper, map[string]any{
		"lines":  []map[string]any{{"itemId": f.item.String(), "quantity": 6}},
		"reason": "short delivery",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decode[dto.IssueBOQResponse](t, w)
	assert.Equal(t, boq.StatusPartiallyIssued, result.BOQ.Status)
	require.NotNil(t, result.Remaining)
	assert.Equal(t, boq.StatusPending, result.Remaining.Status)
	assert.Equal(t, "4.0000", result.Remaining.Lines[0].RequestedQuantity.String())

	w = f.do(t, http.MethodGet, f.entryPath(""), keeper, nil)
	assert.Equal(t, "0.0000", decode[ledger.Entry](t, w).TotalQuantity.String())
}

func TestRouter_CustodyIssueAndReturn(t *testing.T) {
	f := newAPIFixture(t)
	keeper := f.token(t, security.RoleStorekeeper)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, f.entryPath("/receive"), keeper, map[string]any{"generalQuantity": 4}).Code)

	w := f.do(t, http.MethodPost, "/api/v1/custody", keeper, map[string]any{
		"workerId":    f.worker.String(),
		"itemId":      f.item.String(),
		"warehouseId": f.warehouse.String(),
		"quantity":    3,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rec := decode[dto.CustodyResponse](t, w)
	assert.Equal(t, custody.StatusActive, rec.Status)

	w = f.do(t, http.MethodPost, "/api/v1/custody/"+rec.ID.String()+"/return", keeper, map[string]any{
		"quantity":   1,
		"receiverId": id.New().String(),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rec = decode[dto.CustodyResponse](t, w)
	assert.Equal(t, custody.StatusPartiallyReturned, rec.Status)
	assert.Equal(t, "2.0000", rec.Remaining.String())

	w = f.do(t, http.MethodGet, "/api/v1/workers/"+f.worker.String()+"/custody/outstanding/"+f.item.String(), keeper, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2.0000", decode[dto.OutstandingResponse](t, w).Outstanding.String())

	w = f.do(t, http.MethodGet, f.entryPath(""), keeper, nil)
	assert.Equal(t, "2.0000", decode[ledger.Entry](t, w).GeneralQuantity.String())
}
