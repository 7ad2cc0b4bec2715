package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func logRequest(t *testing.T, identify func(*http.Request)) map[string]any {
	t.Helper()

	var buf bytes.Buffer
	handler := Logger(zerolog.New(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/chat/users", nil)
	if identify != nil {
		identify(req)
	}
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLoggerRecordsCallerUID(t *testing.T) {
	entry := logRequest(t, func(r *http.Request) {
		r.Header.Set(HeaderUID, "alice")
	})

	assert.Equal(t, "alice", entry["uid"])
	assert.Equal(t, "/chat/users", entry["path"])
	assert.Equal(t, float64(http.StatusNoContent), entry["status"])
}

func TestLoggerOmitsUIDWhenAnonymous(t *testing.T) {
	entry := logRequest(t, nil)

	_, present := entry["uid"]
	assert.False(t, present)
	assert.Equal(t, "GET", entry["method"])
}
