package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gavv/httpexpect/v2"
	"github.com/l0p7/planetcast/internal/metrics"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

type stubRoutes struct {
	calls []string
}

func (s *stubRoutes) reply(name string, status int) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		s.calls = append(s.calls, name)
		w.WriteHeader(status)
	}
}

func (s *stubRoutes) Combined(w http.ResponseWriter, r *http.Request) {
	s.reply("combined", http.StatusOK)(w, r)
}

func (s *stubRoutes) History(w http.ResponseWriter, r *http.Request) {
	s.reply("history", http.StatusOK)(w, r)
}

func (s *stubRoutes) Store(w http.ResponseWriter, r *http.Request) {
	s.reply("store", http.StatusCreated)(w, r)
}

func (s *stubRoutes) Health(w http.ResponseWriter, r *http.Request) {
	s.reply("health", http.StatusOK)(w, r)
}

func newExpect(t *testing.T, handler http.Handler) *httpexpect.Expect {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return httpexpect.WithConfig(httpexpect.Config{
		BaseURL:  srv.URL,
		Reporter: httpexpect.NewRequireReporter(t),
		Client:   srv.Client(),
	})
}

func TestRouterDispatch(t *testing.T) {
	routes := &stubRoutes{}
	rec := metrics.NewRecorder(nil)
	e := newExpect(t, NewRouter(RouterOptions{Routes: routes, Metrics: rec, Logger: newTestLogger()}))

	e.GET("/combined").Expect().Status(http.StatusOK)
	e.GET("/history").WithQuery("pageSize", 5).Expect().Status(http.StatusOK)
	e.POST("/store").WithText("{}").Expect().Status(http.StatusCreated)
	e.GET("/healthz").Expect().Status(http.StatusOK)
	e.GET("/store").Expect().Status(http.StatusMethodNotAllowed)
	e.GET("/unknown").Expect().Status(http.StatusNotFound)

	require.Equal(t, []string{"combined", "history", "store", "health"}, routes.calls)

	e.GET("/metrics").Expect().Status(http.StatusOK).Body().Contains("planetcast_http_requests_total")
}

func TestRouterCorrelationHeader(t *testing.T) {
	e := newExpect(t, NewRouter(RouterOptions{Routes: &stubRoutes{}, CorrelationHeader: "X-Correlation-ID"}))

	e.GET("/healthz").WithHeader("X-Correlation-ID", "abc-123").
		Expect().Status(http.StatusOK).
		Header("X-Correlation-ID").IsEqual("abc-123")

	e.GET("/healthz").Expect().Status(http.StatusOK).
		Header("X-Correlation-ID").NotEmpty()
}

func TestRouterRecordsRoutePattern(t *testing.T) {
	rec := metrics.NewRecorder(nil)
	handler := NewRouter(RouterOptions{Routes: &stubRoutes{}, Metrics: rec})

	for range 2 {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/store", nil))
		require.Equal(t, http.StatusCreated, resp.Code)
	}
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	require.Equal(t, http.StatusNotFound, resp.Code)

	require.Equal(t, 2.0, requestCount(t, rec, "/store", "POST", "201"))
	require.Equal(t, 1.0, requestCount(t, rec, "unmatched", "GET", "404"))
}

func requestCount(t *testing.T, rec *metrics.Recorder, route, method, status string) float64 {
	t.Helper()
	families, err := rec.Gatherer().Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "planetcast_http_requests_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			if labelsMatch(metric, map[string]string{"route": route, "method": method, "status_code": status}) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(metric *dto.Metric, want map[string]string) bool {
	matched := 0
	for _, label := range metric.GetLabel() {
		if v, ok := want[label.GetName()]; ok {
			if v != label.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(want)
}

func TestRouterWithoutRoutes(t *testing.T) {
	resp := httptest.NewRecorder()
	NewRouter(RouterOptions{}).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/combined", nil))
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
}
