package webhook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/probot-gw/internal/config"
	"github.com/mattjoyce/probot-gw/internal/credentials/mocks"
	"github.com/mattjoyce/probot-gw/internal/log"
	"github.com/mattjoyce/probot-gw/internal/metrics"
	"github.com/mattjoyce/probot-gw/internal/probot"
	"github.com/mattjoyce/probot-gw/internal/webhook"
)

func newServer(t *testing.T, rec *recorder) (*webhook.Server, *mocks.MockProvider, *prometheus.Registry) {
	t.Helper()
	ctrl := gomock.NewController(t)
	provider := mocks.NewMockProvider(ctrl)
	initr := probot.NewInitializer(provider, probot.Direct(rec.app), nil, log.Get())

	reg := prometheus.NewRegistry()
	m := metrics.New(reg, "test")

	d := webhook.NewDispatcher(initr, log.Get(), webhook.WithMetrics(m))
	srv := webhook.NewServer(config.Defaults().Server, d, log.Get(),
		webhook.WithServerMetrics(m, reg),
		webhook.WithReadiness(initr),
	)
	return srv, provider, reg
}

func TestServer_Routes(t *testing.T) {
	rec := &recorder{}
	srv, provider, _ := newServer(t, rec)
	provider.EXPECT().Provide(gomock.Any()).Return(staticCreds(), nil)
	h := srv.Handler()

	// Homepage
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/probot", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")

	// Health before first delivery
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","runtime":"uninitialized"}`, w.Body.String())

	// Deliveries are accepted on any path
	for _, path := range []string{"/", "/api/github/webhooks"} {
		body := []byte(`{"action":"opened"}`)
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
		req.Header.Set(webhook.HeaderEvent, "issues")
		req.Header.Set(webhook.HeaderDelivery, "d-"+path)
		req.Header.Set(webhook.HeaderSignature, webhook.Sign(testSecret, body))

		w = httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	// Health after initialization
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var health map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.Equal(t, "ready", health["runtime"])
}

func TestServer_Metrics(t *testing.T) {
	rec := &recorder{}
	srv, provider, _ := newServer(t, rec)
	provider.EXPECT().Provide(gomock.Any()).Return(staticCreds(), nil)
	h := srv.Handler()

	body := []byte(`{"action":"opened"}`)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set(webhook.HeaderEvent, "issues")
	req.Header.Set(webhook.HeaderSignature, "sha1=0000000000000000000000000000000000000000")
	h.ServeHTTP(httptest.NewRecorder(), req)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `test_deliveries_total{outcome="rejected"} 1`)
}

func TestServer_NoMetricsRouteWhenDisabled(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := mocks.NewMockProvider(ctrl)
	provider.EXPECT().Provide(gomock.Any()).Return(staticCreds(), nil).AnyTimes()
	initr := probot.NewInitializer(provider, probot.Direct((&recorder{}).app), nil, log.Get())

	srv := webhook.NewServer(config.Defaults().Server, webhook.NewDispatcher(initr, log.Get()), log.Get())

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	// Falls through to the dispatcher, which rejects the unsigned request.
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_ServeAndShutdown(t *testing.T) {
	rec := &recorder{}
	srv, _, _ := newServer(t, rec)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/probot"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
