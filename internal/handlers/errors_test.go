package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/javajoker/marketsync/internal/marketplace"
	"github.com/javajoker/marketsync/internal/pricing"
	"github.com/javajoker/marketsync/internal/store"
)

func TestRespondErrorStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", fmt.Errorf("load: %w", store.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"missing cost", &pricing.MissingCostError{}, http.StatusUnprocessableEntity, "UNPROCESSABLE"},
		{"throttled", &marketplace.ThrottledError{}, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED"},
		{"serialization failure", fmt.Errorf("save listing: %w", &pgconn.PgError{Code: "40001"}), http.StatusConflict, "CONFLICT"},
		{"deadlock", errors.New("ERROR: deadlock detected"), http.StatusConflict, "CONFLICT"},
		{"anything else", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodPatch, "/v1/listings/x", nil)
			c.Set("operator_id", "op-1")

			respondError(c, "listing", tt.err)

			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.code)
		})
	}
}
