package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "proofgate/pkg/domain-errors"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusCreated, map[string]string{"status": "ok"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestWriteError(t *testing.T) {
	t.Run("internal error omits description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeInternal, "audit sink unavailable"))

		assert.Equal(t, http.StatusInternalServerError, w.Code)

		var body map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "internal", body["error"])
		assert.NotContains(t, body, "error_description")
	})

	t.Run("proof rejection includes description and details", func(t *testing.T) {
		w := httptest.NewRecorder()
		err := dErrors.New(dErrors.CodeContextTooLarge, "context exceeds maximum serialized size").
			WithField("max_bytes", 1048576).
			WithField("actual_bytes", 2097152)
		WriteError(w, err)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var body ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "context_too_large", body.Error)
		assert.NotEmpty(t, body.ErrorDescription)
		assert.Equal(t, float64(1048576), body.Details["max_bytes"])
	})

	t.Run("wrapped errors resolve to their code", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.Wrap(assert.AnError, dErrors.CodeRateLimited, "verification quota exhausted"))

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
	})

	t.Run("uncoded error defaults to internal", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, assert.AnError)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
