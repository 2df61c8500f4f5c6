package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonic7adarsh/bharat-shop-sub005/internal/reservation/application"
	"github.com/sonic7adarsh/bharat-shop-sub005/internal/reservation/domain"
	"github.com/sonic7adarsh/bharat-shop-sub005/internal/reservation/infrastructure/memory"
	"github.com/sonic7adarsh/bharat-shop-sub005/pkg/idempotency"
)

type testEnv struct {
	server *httptest.Server
	store  *memory.Store
	engine *application.Engine
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := memory.NewStore()
	store.SeedVariant("t1", "v1", 10)

	engine := application.NewEngine(log, store, store, application.EngineConfig{
		DefaultTTL:      time.Minute,
		MaxRetries:      1,
		RetryBackoff:    time.Millisecond,
		ExpireBatchSize: 100,
	})
	queries := application.NewQueries(log, store, time.Hour, 24*time.Hour, 500)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	idem := idempotency.NewStore(rdb, time.Minute)

	h := NewHandler(log, engine, queries, idem)
	server := httptest.NewServer(h.Routes())
	t.Cleanup(server.Close)

	return &testEnv{server: server, store: store, engine: engine}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestReserveEndpoint(t *testing.T) {
	env := setup(t)

	resp := env.do(t, http.MethodPost, "/tenants/t1/reservations",
		map[string]any{"variantId": "v1", "quantity": 4, "ttlSeconds": 60}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decode[reservationResp](t, resp)
	assert.NotEmpty(t, body.ID)
	assert.Equal(t, "t1", body.TenantID)
	assert.Equal(t, 4, body.Quantity)
	assert.Equal(t, string(domain.StatusActive), body.Status)

	avail := env.do(t, http.MethodGet, "/tenants/t1/variants/v1/availability", nil, nil)
	require.Equal(t, http.StatusOK, avail.StatusCode)
	assert.Equal(t, 6, decode[map[string]int](t, avail)["available"])
}

func TestReserveEndpoint_ErrorMapping(t *testing.T) {
	env := setup(t)

	resp := env.do(t, http.MethodPost, "/tenants/t1/reservations",
		map[string]any{"variantId": "v1", "quantity": 0}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/tenants/t1/reservations",
		map[string]any{"variantId": "missing", "quantity": 1}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/tenants/t1/reservations",
		map[string]any{"variantId": "v1", "quantity": 11}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestReserveEndpoint_IdempotencyKey(t *testing.T) {
	env := setup(t)
	headers := map[string]string{"Idempotency-Key": "checkout-42"}
	body := map[string]any{"variantId": "v1", "quantity": 4}

	first := env.do(t, http.MethodPost, "/tenants/t1/reservations", body, headers)
	require.Equal(t, http.StatusCreated, first.StatusCode)
	created := decode[reservationResp](t, first)

	second := env.do(t, http.MethodPost, "/tenants/t1/reservations", body, headers)
	require.Equal(t, http.StatusOK, second.StatusCode)
	replayed := decode[reservationResp](t, second)
	assert.Equal(t, created.ID, replayed.ID)

	// The retry held no extra stock.
	avail := env.do(t, http.MethodGet, "/tenants/t1/variants/v1/availability", nil, nil)
	assert.Equal(t, 6, decode[map[string]int](t, avail)["available"])
}

func TestReleaseAndConfirmEndpoints(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	r1, err := env.engine.Reserve(ctx, "t1", "v1", 3, time.Minute)
	require.NoError(t, err)
	r2, err := env.engine.Reserve(ctx, "t1", "v1", 3, time.Minute)
	require.NoError(t, err)

	resp := env.do(t, http.MethodPost, fmt.Sprintf("/tenants/t1/reservations/%s/release", r1.ID), nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodPost, fmt.Sprintf("/tenants/t1/reservations/%s/confirm", r2.ID), nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Confirming the released one is an ordering error.
	resp = env.do(t, http.MethodPost, fmt.Sprintf("/tenants/t1/reservations/%s/confirm", r1.ID), nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Cross-tenant access reads as not found.
	resp = env.do(t, http.MethodPost, fmt.Sprintf("/tenants/t2/reservations/%s/release", r2.ID), nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestActiveReservationsEndpoint(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := env.engine.Reserve(ctx, "t1", "v1", 1, time.Minute)
		require.NoError(t, err)
	}

	resp := env.do(t, http.MethodGet, "/tenants/t1/reservations?page=1&size=2", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Items []reservationResp `json:"items"`
		Total int               `json:"total"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 3, body.Total)
	assert.Len(t, body.Items, 2)
}

func TestStatsAndStaleEndpoints(t *testing.T) {
	env := setup(t)

	stale := domain.NewReservation("t1", "v1", 1, 48*time.Hour)
	stale.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, env.store.CreateActive(context.Background(), stale))

	resp := env.do(t, http.MethodGet, "/tenants/t1/reservations/stats", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[map[string]int](t, resp)
	assert.Equal(t, 1, stats["activeCount"])
	assert.Equal(t, 1, stats["staleCount"])
	assert.Equal(t, 0, stats["veryStaleCount"])

	resp = env.do(t, http.MethodGet, "/admin/reservations/stale?olderThanMinutes=60", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var staleBody struct {
		Items []reservationResp `json:"items"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&staleBody))
	require.Len(t, staleBody.Items, 1)
	assert.Equal(t, stale.ID, staleBody.Items[0].ID)
}

func TestCleanupEndpoint(t *testing.T) {
	env := setup(t)

	overdue := domain.NewReservation("t1", "v1", 4, time.Minute)
	overdue.ExpiresAt = time.Now().UTC().Add(-time.Second)
	require.NoError(t, env.store.CreateActive(context.Background(), overdue))

	resp := env.do(t, http.MethodPost, "/admin/reservations/cleanup", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decode[map[string]int](t, resp)["expired"])

	avail := env.do(t, http.MethodGet, "/tenants/t1/variants/v1/availability", nil, nil)
	assert.Equal(t, 10, decode[map[string]int](t, avail)["available"])
}

func TestBulkReleaseEndpoint(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	r1, err := env.engine.Reserve(ctx, "t1", "v1", 2, time.Minute)
	require.NoError(t, err)
	r2, err := env.engine.Reserve(ctx, "t1", "v1", 2, time.Minute)
	require.NoError(t, err)

	resp := env.do(t, http.MethodPost, "/tenants/t1/reservations/bulk-release",
		map[string]any{"reservationIds": []string{r1.ID, "missing", r2.ID}}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, decode[map[string]int](t, resp)["released"])
}
