package json

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hilthontt/pokersync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{"not found", domain.ErrRoomNotFound, http.StatusNotFound, "RoomNotFound", "Room not found"},
		{"validation", domain.Invalid(fmt.Errorf("name: too long")), http.StatusBadRequest, "ValidationFailed", ""},
		{"storage", fmt.Errorf("%w: connection reset", domain.ErrStorageUnavailable), http.StatusServiceUnavailable, "StorageUnavailable", domain.PublicMessage(domain.ErrStorageUnavailable)},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, "Internal", "An unexpected error occurred"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteDomainError(rec, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.wantCode, resp.Code)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, resp.Message)
			}
			assert.NotContains(t, resp.Message, "connection reset")
		})
	}
}

func TestWriteRateLimitError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteRateLimitError(rec, 3)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("Retry-After"))
}

func TestRead(t *testing.T) {
	type body struct {
		Options []string `json:"options"`
	}

	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"valid", `{"options":["1","2"]}`, false},
		{"empty body", ``, false},
		{"unknown field", `{"nope":1}`, true},
		{"two objects", `{} {}`, true},
		{"garbage", `{`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.payload))

			var dst body
			err := Read(req, &dst)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
