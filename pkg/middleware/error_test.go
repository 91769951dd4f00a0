package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"licensing-controlplane/pkg/errutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, err error) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Error())
	r.GET("/", func(c *gin.Context) { _ = c.Error(err) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body["error"].(map[string]any)
}

func TestErrorRendersBaseError(t *testing.T) {
	w, body := serve(t, errutil.QuotaExceeded("monthly quota exceeded", nil,
		errutil.WithDetails(errutil.Detail{Field: "limit", Message: "10000"})))

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "quota_exceeded", body["code"])
	require.Len(t, body["details"], 1)
}

func TestErrorHidesInternalCause(t *testing.T) {
	w, body := serve(t, errutil.Internal("failed to create license", errors.New("pq: connection refused")))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Equal(t, "failed to create license", body["message"])
	require.NotContains(t, w.Body.String(), "connection refused")
}

func TestErrorPlainError(t *testing.T) {
	w, body := serve(t, errors.New("boom"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Equal(t, "internal", body["code"])
}
