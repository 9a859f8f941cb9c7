package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type erroringCounter struct{}

func (erroringCounter) Take(context.Context, string) (bool, error) {
	return false, errors.New("backend down")
}

func (erroringCounter) Bypassed() bool { return false }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClientKey(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		xff  string
		want string
	}{
		{name: "missing header", xff: "", want: FallbackKey},
		{name: "single hop", xff: "203.0.113.7", want: "203.0.113.7"},
		{name: "first of many", xff: "198.51.100.1, 10.0.0.1, 10.0.0.2", want: "198.51.100.1"},
		{name: "padded", xff: "  192.0.2.9  ,10.0.0.1", want: "192.0.2.9"},
		{name: "blank first hop", xff: " ,10.0.0.1", want: FallbackKey},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.xff != "" {
				r.Header.Set("X-Forwarded-For", tc.xff)
			}
			assert.Equal(t, tc.want, ClientKey(r))
		})
	}
}

func TestGovernor_MiddlewareRejectsOverLimit(t *testing.T) {
	t.Parallel()

	g := NewGovernor(discardLogger(), NewWindowCounter(3))

	calls := 0
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 4)
	for range 4 {
		req := httptest.NewRequest(http.MethodGet, "/markets", nil)
		req.Header.Set("X-Forwarded-For", "A")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}

	assert.Equal(t, []int{204, 204, 204, http.StatusTooManyRequests}, codes)
	assert.Equal(t, 3, calls)

	req := httptest.NewRequest(http.MethodGet, "/markets", nil)
	req.Header.Set("X-Forwarded-For", "B")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code, "other clients are unaffected")
}

func TestGovernor_RejectionBody(t *testing.T) {
	t.Parallel()

	g := NewGovernor(discardLogger(), NewWindowCounter(1))
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for range 2 {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		if rr.Code == http.StatusTooManyRequests {
			assert.JSONEq(t, `{"error":"too many requests"}`, rr.Body.String())
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			return
		}
	}
	t.Fatal("expected a rejection")
}

func TestGovernor_Bypass(t *testing.T) {
	t.Parallel()

	assert.True(t, NewGovernor(discardLogger(), nil).Bypassed())
	assert.True(t, NewGovernor(discardLogger(), NewWindowCounter(0)).Bypassed())
	assert.False(t, NewGovernor(discardLogger(), NewWindowCounter(10)).Bypassed())

	g := NewGovernor(discardLogger(), NewWindowCounter(0))
	for range 50 {
		require.NoError(t, g.Check(context.Background(), "k"))
	}
}

func TestGovernor_CheckReturnsErrRejected(t *testing.T) {
	t.Parallel()

	g := NewGovernor(discardLogger(), NewWindowCounter(1))
	require.NoError(t, g.Check(context.Background(), "k"))
	assert.ErrorIs(t, g.Check(context.Background(), "k"), ErrRejected)
}

func TestGovernor_BackendErrorFailsOpen(t *testing.T) {
	t.Parallel()

	g := NewGovernor(discardLogger(), erroringCounter{})
	assert.NoError(t, g.Check(context.Background(), "k"))
}
