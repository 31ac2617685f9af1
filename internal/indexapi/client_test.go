package indexapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seoforge/url-indexer/internal/indexer"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{Endpoint: srv.URL, Timeout: 5 * time.Second}, srv.Client(), nil)
}

func TestSubmitURLSuccess(t *testing.T) {
	t.Parallel()

	var got struct {
		URL  string `json:"url"`
		Type string `json:"type"`
	}
	var auth string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"urlNotificationMetadata":{}}`))
	})

	err := client.SubmitURL(context.Background(), indexer.SubmitRequest{
		URL:              "https://example.com/page",
		NotificationType: "URL_UPDATED",
		Token:            "tok-123",
	})
	require.NoError(t, err)
	require.Equal(t, "https://example.com/page", got.URL)
	require.Equal(t, "URL_UPDATED", got.Type)
	require.Equal(t, "Bearer tok-123", auth)
}

func TestSubmitURLClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		body   string
		want   indexer.ErrorClass
	}{
		{
			name:   "429 is quota",
			status: http.StatusTooManyRequests,
			body:   `{"error":{"code":429,"message":"Quota exceeded for quota metric","status":"RESOURCE_EXHAUSTED"}}`,
			want:   indexer.ClassQuota,
		},
		{
			name:   "403 with quota message is quota",
			status: http.StatusForbidden,
			body:   `{"error":{"code":403,"message":"Daily quota exceeded"}}`,
			want:   indexer.ClassQuota,
		},
		{
			name:   "403 plain is auth",
			status: http.StatusForbidden,
			body:   `{"error":{"code":403,"message":"The caller does not have access"}}`,
			want:   indexer.ClassAuth,
		},
		{
			name:   "401 is auth",
			status: http.StatusUnauthorized,
			body:   `{"error":{"code":401,"message":"Request had invalid authentication credentials"}}`,
			want:   indexer.ClassAuth,
		},
		{
			name:   "400 is validation",
			status: http.StatusBadRequest,
			body:   `{"error":{"code":400,"message":"Invalid attribute. url is malformed"}}`,
			want:   indexer.ClassValidation,
		},
		{
			name:   "503 is transient",
			status: http.StatusServiceUnavailable,
			body:   `{"error":{"code":503,"message":"The service is currently unavailable"}}`,
			want:   indexer.ClassTransient,
		},
		{
			name:   "non-json body falls back to status text",
			status: http.StatusBadGateway,
			body:   `upstream exploded`,
			want:   indexer.ClassTransient,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			})
			err := client.SubmitURL(context.Background(), indexer.SubmitRequest{
				URL: "https://example.com/page", NotificationType: "URL_UPDATED", Token: "tok",
			})
			require.Error(t, err)
			require.Equal(t, tc.want, indexer.ClassOf(err))
		})
	}
}

func TestSubmitURLIncludesUpstreamMessage(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"Quota exceeded for PublishRequestsPerDayPerProject"}}`))
	})
	err := client.SubmitURL(context.Background(), indexer.SubmitRequest{
		URL: "https://example.com/page", NotificationType: "URL_UPDATED", Token: "tok",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "Quota exceeded for PublishRequestsPerDayPerProject")
	require.Contains(t, err.Error(), "status 429")
}

func TestSubmitURLTransportErrorIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	client := New(Config{Endpoint: endpoint, Timeout: time.Second}, nil, nil)
	err := client.SubmitURL(context.Background(), indexer.SubmitRequest{
		URL: "https://example.com/page", NotificationType: "URL_UPDATED", Token: "tok",
	})
	require.Error(t, err)
	require.Equal(t, indexer.ClassTransient, indexer.ClassOf(err))
}
