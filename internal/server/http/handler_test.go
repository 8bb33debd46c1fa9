package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leshachaplin/feedbackhook/internal/apierror"
	"github.com/leshachaplin/feedbackhook/internal/domain"
	"github.com/leshachaplin/feedbackhook/internal/metrics"
	"github.com/leshachaplin/feedbackhook/internal/service"
)

type fakeHook struct {
	events []domain.Event
}

func (f *fakeHook) OnEvent(event domain.Event) bool {
	if event.Name != "item_viewed" {
		return false
	}
	f.events = append(f.events, event)
	return true
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeHook) {
	t.Helper()
	hook := &fakeHook{}
	registry := prometheus.NewRegistry()
	metrics.NewCounters(registry).TotalRequests.Increment(3)

	handler := NewHandler(service.New(hook, zerolog.Nop()), zerolog.Nop())
	srv := httptest.NewServer(New(handler, registry).Router())
	t.Cleanup(srv.Close)
	return srv, hook
}

func TestServer_Event(t *testing.T) {
	cases := map[string]struct {
		body           string
		expectedStatus int
		expected       service.Result
	}{
		"ok": {
			body: `{"event":"item_viewed","distinct_id":"u1","timestamp":"2024-01-01T00:00:00Z","properties":{"item_id":"p1"}}
{"event":"page_load","distinct_id":"u1","properties":{}}
{broken`,
			expectedStatus: http.StatusAccepted,
			expected:       service.Result{Accepted: 1, Skipped: 1, Invalid: 1},
		},
		"ok - empty": {
			body:           "",
			expectedStatus: http.StatusAccepted,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv, hook := newTestServer(t)

			res, err := http.Post(srv.URL+"/v1/event", "application/x-ndjson", strings.NewReader(tc.body))
			require.NoError(t, err)
			defer res.Body.Close()

			require.Equal(t, tc.expectedStatus, res.StatusCode)
			var got service.Result
			require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
			require.Equal(t, tc.expected, got)
			require.Len(t, hook.events, tc.expected.Accepted)
		})
	}
}

func TestServer_EventLineTooLong(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"event":"item_viewed","properties":{"x":"` + strings.Repeat("a", 2<<20) + `"}}`
	res, err := http.Post(srv.URL+"/v1/event", "application/x-ndjson", strings.NewReader(body))
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	var apiErr apierror.Error
	require.NoError(t, json.NewDecoder(res.Body).Decode(&apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.HTTP.Code)
	assert.Contains(t, apiErr.Message, "read events")
}

func TestServer_ReadyAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	res, err := http.Get(srv.URL + "/_/ready")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(res.Body)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "feedbackhook_total_requests 3")
}

func TestGetClientIP(t *testing.T) {
	cases := map[string]struct {
		remote   string
		headers  map[string]string
		expected string
	}{
		"remote addr":     {remote: "10.1.2.3:5555", expected: "10.1.2.3"},
		"loopback":        {remote: "[::1]:5555", expected: "127.0.0.1"},
		"forwarded for":   {remote: "10.0.0.1:1", headers: map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.1"}, expected: "1.2.3.4"},
		"original header": {remote: "10.0.0.1:1", headers: map[string]string{"X-Original-Forwarded-For": "5.6.7.8"}, expected: "5.6.7.8"},
		"garbage":         {remote: "nonsense", expected: "0.0.0.0"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/event", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			require.Equal(t, tc.expected, getClientIP(req))
		})
	}
}
