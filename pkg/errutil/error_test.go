package errutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		http int
		grpc codes.Code
	}{
		{NotFound("license not found", nil), http.StatusNotFound, codes.NotFound},
		{Conflict("duplicate activation key", nil), http.StatusConflict, codes.AlreadyExists},
		{InvalidSignature("license signature is invalid", nil), http.StatusBadRequest, codes.InvalidArgument},
		{Forbidden("module is not licensed", nil), http.StatusForbidden, codes.PermissionDenied},
		{Unauthorized("invalid api key", nil), http.StatusUnauthorized, codes.Unauthenticated},
		{ValidationFailed("end_at must be after start_at", nil), http.StatusUnprocessableEntity, codes.InvalidArgument},
		{QuotaExceeded("monthly quota exceeded", nil), http.StatusTooManyRequests, codes.ResourceExhausted},
		{Internal("failed to create license", errors.New("db down")), http.StatusInternalServerError, codes.Internal},
	}

	for _, tc := range cases {
		code := StatusOf(tc.err)
		require.Equal(t, tc.http, code.HTTPStatus(), tc.err.Error())
		require.Equal(t, tc.grpc, code.GRPCCode(), tc.err.Error())
	}
}

func TestStatusOfWrapped(t *testing.T) {
	err := fmt.Errorf("activate: %w", InvalidSignature("license signature is invalid", nil))
	require.Equal(t, StatusInvalidSignature, StatusOf(err))
	require.True(t, Is(err, StatusInvalidSignature))
	require.False(t, Is(nil, StatusInternal))
	require.Equal(t, StatusInternal, StatusOf(errors.New("plain")))
}

func TestUnwrapKeepsCause(t *testing.T) {
	cause := errors.New("duplicate key value")
	err := Conflict("license already exists", cause)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "[conflict]")
}

func TestDetailsSurviveJSON(t *testing.T) {
	err := QuotaExceeded("monthly quota exceeded", nil, WithDetails(
		Detail{Field: "limit", Message: "10000"},
		Detail{Field: "current", Message: "9500"},
	))

	var base BaseError
	require.True(t, errors.As(err, &base))
	body := base.JSON().(map[string]interface{})["error"].(map[string]interface{})
	require.Equal(t, StatusQuotaExceeded, body["code"])
	require.Len(t, body["details"], 2)
}

func TestToGRPCError(t *testing.T) {
	require.NoError(t, ToGRPCError(nil))

	st, ok := status.FromError(ToGRPCError(NotFound("license not found", nil)))
	require.True(t, ok)
	require.Equal(t, codes.NotFound, st.Code())

	st, _ = status.FromError(ToGRPCError(context.DeadlineExceeded))
	require.Equal(t, codes.DeadlineExceeded, st.Code())

	st, _ = status.FromError(ToGRPCError(errors.New("boom")))
	require.Equal(t, codes.Internal, st.Code())
}
