package interfaces

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"eventix/internal/pkg/lock"
	"eventix/internal/service/ticket/application"
	"eventix/internal/service/ticket/domain"
	"eventix/internal/service/ticket/domain/port"
	"eventix/internal/service/ticket/infrastructure"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fixedCatalog struct{ capacity int }

func (c fixedCatalog) GetEventByID(context.Context, string) port.EventInfo {
	return port.EventInfo{Category: "standard", TicketTypes: []port.TicketType{{Quantity: c.capacity}}}
}

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	svc := application.NewTicketService(
		infrastructure.NewMemoryInventoryRepository(),
		infrastructure.NewMemoryReservationRepository(),
		infrastructure.NewMemoryTicketRepository(),
		fixedCatalog{capacity: 50},
		infrastructure.NewMemoryIdempotencyRegistry(),
		lock.NewKeyMutex(),
		application.NewLimitPolicy(10, nil),
		fixedClock{now: time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)},
		15*time.Minute, otel.Tracer("test"),
	)
	mux := http.NewServeMux()
	NewTicketHandler(svc).RegisterRoutes(mux)
	return mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func reserveVia(t *testing.T, mux *http.ServeMux, qty int, key string) application.ReserveResponse {
	t.Helper()
	headers := map[string]string{}
	if key != "" {
		headers[idempotencyKeyHeader] = key
	}
	rec := doJSON(t, mux, http.MethodPost, "/tickets/reserve",
		application.ReserveRequest{EventID: "event-1", UserID: "user-1", Quantity: qty}, headers)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp application.ReserveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestReserveEndpoint(t *testing.T) {
	t.Run("creates reservation", func(t *testing.T) {
		mux := newTestMux(t)
		resp := reserveVia(t, mux, 3, "")
		assert.NotEmpty(t, resp.ReservationID)
		assert.Equal(t, domain.StatusPending, resp.Status)
		assert.Equal(t, 3, resp.Quantity)
	})

	t.Run("replays on idempotency key header", func(t *testing.T) {
		mux := newTestMux(t)
		first := reserveVia(t, mux, 3, "key-1")
		second := reserveVia(t, mux, 3, "key-1")
		assert.Equal(t, first.ReservationID, second.ReservationID)
	})

	t.Run("maps validation to 400", func(t *testing.T) {
		mux := newTestMux(t)
		rec := doJSON(t, mux, http.MethodPost, "/tickets/reserve",
			application.ReserveRequest{EventID: "event-1", UserID: "user-1", Quantity: 0}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("maps insufficient stock to 409", func(t *testing.T) {
		mux := newTestMux(t)
		for i := 0; i < 5; i++ {
			reserveVia(t, mux, 10, "")
		}
		rec := doJSON(t, mux, http.MethodPost, "/tickets/reserve",
			application.ReserveRequest{EventID: "event-1", UserID: "user-1", Quantity: 1}, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		mux := newTestMux(t)
		req := httptest.NewRequest(http.MethodPost, "/tickets/reserve", bytes.NewBufferString("{broken"))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects GET", func(t *testing.T) {
		mux := newTestMux(t)
		rec := doJSON(t, mux, http.MethodGet, "/tickets/reserve", nil, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestConfirmEndpoint(t *testing.T) {
	t.Run("confirms pending reservation", func(t *testing.T) {
		mux := newTestMux(t)
		resp := reserveVia(t, mux, 2, "")

		rec := doJSON(t, mux, http.MethodPost, "/tickets/confirm",
			map[string]string{"reservationId": resp.ReservationID}, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var confirm application.ConfirmResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &confirm))
		assert.Equal(t, domain.StatusConfirmed, confirm.Status)
	})

	t.Run("maps unknown reservation to 404", func(t *testing.T) {
		mux := newTestMux(t)
		rec := doJSON(t, mux, http.MethodPost, "/tickets/confirm",
			map[string]string{"reservationId": "ghost"}, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("maps double confirm to 422", func(t *testing.T) {
		mux := newTestMux(t)
		resp := reserveVia(t, mux, 2, "")
		body := map[string]string{"reservationId": resp.ReservationID}

		rec := doJSON(t, mux, http.MethodPost, "/tickets/confirm", body, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		rec = doJSON(t, mux, http.MethodPost, "/tickets/confirm", body, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("requires reservationId", func(t *testing.T) {
		mux := newTestMux(t)
		rec := doJSON(t, mux, http.MethodPost, "/tickets/confirm", map[string]string{}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestReleaseEndpoint(t *testing.T) {
	t.Run("cancels reservation", func(t *testing.T) {
		mux := newTestMux(t)
		resp := reserveVia(t, mux, 2, "")

		rec := doJSON(t, mux, http.MethodPost, "/tickets/release",
			map[string]string{"reservationId": resp.ReservationID}, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var release application.ReleaseResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &release))
		assert.Equal(t, domain.StatusCanceled, release.Status)
	})

	t.Run("repeat release reports current status with 200", func(t *testing.T) {
		mux := newTestMux(t)
		resp := reserveVia(t, mux, 2, "")
		body := map[string]string{"reservationId": resp.ReservationID}

		doJSON(t, mux, http.MethodPost, "/tickets/release", body, nil)
		rec := doJSON(t, mux, http.MethodPost, "/tickets/release", body, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestAvailabilityEndpoint(t *testing.T) {
	t.Run("returns ledger snapshot", func(t *testing.T) {
		mux := newTestMux(t)
		reserveVia(t, mux, 8, "")

		rec := doJSON(t, mux, http.MethodGet, "/tickets/availability/event-1", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var avail application.AvailabilityResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &avail))
		assert.Equal(t, "event-1", avail.EventID)
		assert.Equal(t, 50, avail.Total)
		assert.Equal(t, 42, avail.Available)
	})

	t.Run("unknown event is lazily initialized, not 404", func(t *testing.T) {
		mux := newTestMux(t)
		rec := doJSON(t, mux, http.MethodGet, "/tickets/availability/never-seen", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var avail application.AvailabilityResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &avail))
		assert.Equal(t, 50, avail.Available)
	})

	t.Run("missing eventId", func(t *testing.T) {
		mux := newTestMux(t)
		rec := doJSON(t, mux, http.MethodGet, "/tickets/availability/", nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUserReservationsEndpoint(t *testing.T) {
	mux := newTestMux(t)
	resp := reserveVia(t, mux, 2, "")

	rec := doJSON(t, mux, http.MethodGet, "/tickets/user/user-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list application.UserReservationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Reservations, 1)
	assert.Equal(t, resp.ReservationID, list.Reservations[0].ReservationID)

	rec = doJSON(t, mux, http.MethodGet, "/tickets/user/nobody", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Empty(t, list.Reservations)
}

func TestHealthz(t *testing.T) {
	mux := newTestMux(t)
	rec := doJSON(t, mux, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
