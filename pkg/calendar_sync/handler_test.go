package calendar_sync

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/shotasten/union-board/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(f syncFixture) *mux.Router {
	handler := NewHandler(f.service)
	r := mux.NewRouter()
	r.HandleFunc("/api/sync", handler.SyncAll).Methods("POST")
	r.HandleFunc("/api/sync/event/{eventId}", handler.SyncEvent).Methods("POST")
	return r
}

func TestHandler_SyncEvent(t *testing.T) {
	t.Run("should return the external reference", func(t *testing.T) {
		// given
		f := setupSync(t, nil)
		f.storeRecord(t, practiceE1())
		req := httptest.NewRequest(http.MethodPost, "/api/sync/event/e1", nil)
		rr := httptest.NewRecorder()

		// when
		setupRouter(f).ServeHTTP(rr, req)

		// then
		require.Equal(t, http.StatusOK, rr.Code)
		var body SyncEventResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		assert.Equal(t, f.reload(t, "e1").ExternalRef, body.ExternalRef)
		assert.NotEmpty(t, body.ExternalRef)
	})

	t.Run("should map errors to status codes", func(t *testing.T) {
		f := setupSync(t, nil)
		archived := practiceE1()
		archived.Id = "e-archived"
		archived.Status = ledger.StatusArchived
		f.storeRecord(t, archived)

		tests := []struct {
			name string
			path string
			want int
		}{
			{"should return 404 for an unknown event", "/api/sync/event/missing", http.StatusNotFound},
			{"should return 409 for an inactive event", "/api/sync/event/e-archived", http.StatusConflict},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rr := httptest.NewRecorder()
				setupRouter(f).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, tt.path, nil))
				assert.Equal(t, tt.want, rr.Code)
			})
		}
		assert.Equal(t, 0, f.store.Calls())
	})
}

func TestHandler_SyncAll(t *testing.T) {
	t.Run("should return the sync result", func(t *testing.T) {
		// given
		f := setupSync(t, nil)
		f.storeRecord(t, practiceE1())
		rr := httptest.NewRecorder()

		// when
		setupRouter(f).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/sync?window=true", nil))

		// then
		require.Equal(t, http.StatusOK, rr.Code)
		var result Result
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&result))
		assert.Equal(t, 1, result.Created)
		assert.Equal(t, 0, result.Failed)
		assert.Empty(t, result.Errors)
	})

	t.Run("should reject an invalid window flag", func(t *testing.T) {
		f := setupSync(t, nil)
		rr := httptest.NewRecorder()

		setupRouter(f).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/sync?window=sometimes", nil))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, 0, f.store.Calls())
	})
}

func TestService_SyncOneEvent(t *testing.T) {
	t.Run("should reject an empty id", func(t *testing.T) {
		f := setupSync(t, nil)

		_, err := f.service.SyncOneEvent(f.ctx, " ")

		assert.ErrorIs(t, err, ledger.ErrInvalidEventId)
	})

	t.Run("should be idempotent", func(t *testing.T) {
		// given
		f := setupSync(t, nil)
		f.storeRecord(t, practiceE1())
		first, err := f.service.SyncOneEvent(f.ctx, "e1")
		require.NoError(t, err)
		calendarWrites := f.store.Writes()
		ledgerWrites := f.repo.Writes()

		// when
		second, err := f.service.SyncOneEvent(f.ctx, "e1")

		// then
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, calendarWrites, f.store.Writes())
		assert.Equal(t, ledgerWrites, f.repo.Writes())
	})
}
