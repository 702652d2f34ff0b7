package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/naka-gawa/clone-traffic/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// setupTestGateway creates a GitHubGateway that communicates with a mock HTTP server.
func setupTestGateway(t *testing.T, handler http.Handler, timeout time.Duration) (*GitHubGateway, *httptest.Server) {
	server := httptest.NewServer(handler)

	gateway, err := NewGitHubGateway("test-token", Options{
		BaseURL:   server.URL + "/",
		UserAgent: "clone-traffic-test",
		Timeout:   timeout,
	}, zap.NewNop())
	require.NoError(t, err)

	return gateway, server
}

func TestGitHubGateway_FetchClones(t *testing.T) {
	testCases := []struct {
		name           string
		handlerFunc    func(w http.ResponseWriter, r *http.Request)
		expected       *domain.TrafficReport
		expectError    bool
		expectedKind   ErrorKind
		expectedErrMsg string
	}{
		{
			name: "happy path - decodes daily samples in order",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				fmt.Fprint(w, `{"count":10,"uniques":5,"clones":[
					{"timestamp":"2024-03-01T00:00:00Z","count":3,"uniques":1},
					{"timestamp":"2024-03-02T00:00:00Z","count":7,"uniques":4}]}`)
			},
			expected: &domain.TrafficReport{
				Count:   10,
				Uniques: 5,
				Clones: []domain.DailySample{
					{Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Count: 3, Uniques: 1},
					{Timestamp: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), Count: 7, Uniques: 4},
				},
			},
		},
		{
			name: "happy path - no data yet",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"count":0,"uniques":0,"clones":[]}`)
			},
			expected: &domain.TrafficReport{Clones: []domain.DailySample{}},
		},
		{
			name: "error case - forbidden token",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
				fmt.Fprint(w, `{"message":"Must have push access to repository"}`)
			},
			expectError:    true,
			expectedKind:   KindStatus,
			expectedErrMsg: "probably permissions related",
		},
		{
			name: "error case - not found",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				fmt.Fprint(w, `{"message":"Not Found"}`)
			},
			expectError:    true,
			expectedKind:   KindStatus,
			expectedErrMsg: "github returned error status",
		},
		{
			name: "error case - malformed json",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"count":1,"clones":[`)
			},
			expectError:    true,
			expectedKind:   KindDecode,
			expectedErrMsg: "failed to parse response",
		},
		{
			name: "error case - wrong field type",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"count":"many","uniques":1,"clones":[]}`)
			},
			expectError:  true,
			expectedKind: KindDecode,
		},
		{
			name: "error case - invalid timestamp",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"count":1,"uniques":1,"clones":[{"timestamp":"yesterday","count":1,"uniques":1}]}`)
			},
			expectError:  true,
			expectedKind: KindDecode,
		},
		{
			name: "error case - negative counter",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"count":1,"uniques":1,"clones":[{"timestamp":"2024-03-01T00:00:00Z","count":-1,"uniques":1}]}`)
			},
			expectError:    true,
			expectedKind:   KindDecode,
			expectedErrMsg: "negative",
		},
		{
			name: "error case - missing sample fields",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"count":1,"uniques":1,"clones":[{"count":1}]}`)
			},
			expectError:    true,
			expectedKind:   KindDecode,
			expectedErrMsg: "incomplete",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gateway, server := setupTestGateway(t, http.HandlerFunc(tc.handlerFunc), 0)
			defer server.Close()

			report, err := gateway.FetchClones(context.Background(), "octo", "hello")
			if tc.expectError {
				require.Error(t, err)
				var fetchErr *FetchError
				require.True(t, errors.As(err, &fetchErr))
				assert.Equal(t, tc.expectedKind, fetchErr.Kind)
				assert.Equal(t, server.URL+"/repos/octo/hello/traffic/clones", fetchErr.URL)
				assert.Contains(t, err.Error(), fetchErr.URL)
				assert.Contains(t, err.Error(), tc.expectedErrMsg)
				assert.Nil(t, report)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tc.expected, report)
			}
		})
	}
}

func TestGitHubGateway_RequestShape(t *testing.T) {
	var calls atomic.Int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/repos/octo/hello/traffic/clones", r.URL.Path)
		assert.Equal(t, "day", r.URL.Query().Get("per"))
		assert.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "clone-traffic-test", r.Header.Get("User-Agent"))
		fmt.Fprint(w, `{"count":0,"uniques":0,"clones":[]}`)
	}
	gateway, server := setupTestGateway(t, http.HandlerFunc(handler), 0)
	defer server.Close()

	_, err := gateway.FetchClones(context.Background(), "octo", "hello")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGitHubGateway_NoRetryOnFailure(t *testing.T) {
	var calls atomic.Int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"message":"boom"}`)
	}
	gateway, server := setupTestGateway(t, http.HandlerFunc(handler), 0)
	defer server.Close()

	_, err := gateway.FetchClones(context.Background(), "octo", "hello")
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGitHubGateway_SecondaryRateLimitIsNotResent(t *testing.T) {
	var calls atomic.Int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("X-RateLimit-Remaining", "10")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(-time.Second).Unix(), 10))
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message":"You have exceeded a secondary rate limit"}`)
	}
	gateway, server := setupTestGateway(t, http.HandlerFunc(handler), 0)
	defer server.Close()

	_, err := gateway.FetchClones(context.Background(), "octo", "hello")
	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, KindStatus, fetchErr.Kind)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGitHubGateway_TimeoutIsTransportError(t *testing.T) {
	release := make(chan struct{})
	handler := func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}
	gateway, server := setupTestGateway(t, http.HandlerFunc(handler), 50*time.Millisecond)
	defer server.Close()
	defer close(release)

	_, err := gateway.FetchClones(context.Background(), "octo", "hello")
	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, KindTransport, fetchErr.Kind)
	assert.Contains(t, err.Error(), "failed to get url")
}

func TestGitHubGateway_UnreachableIsTransportError(t *testing.T) {
	gateway, server := setupTestGateway(t, http.NotFoundHandler(), 0)
	server.Close()

	_, err := gateway.FetchClones(context.Background(), "octo", "hello")
	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, KindTransport, fetchErr.Kind)
}

func TestGitHubGateway_EmptyIdentifier(t *testing.T) {
	gateway, server := setupTestGateway(t, http.NotFoundHandler(), 0)
	defer server.Close()

	_, err := gateway.FetchClones(context.Background(), "", "hello")
	assert.ErrorIs(t, err, ErrEmptyIdentifier)
	_, err = gateway.FetchClones(context.Background(), "octo", "")
	assert.ErrorIs(t, err, ErrEmptyIdentifier)
}
