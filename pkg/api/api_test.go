package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"analytics-engine/pkg/cache"
	"analytics-engine/pkg/calculator"
	"analytics-engine/pkg/models"
	"analytics-engine/pkg/telemetry"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDataset() *models.Dataset {
	d := func(m time.Month, day int) time.Time { return time.Date(2023, m, day, 0, 0, 0, 0, time.UTC) }
	return &models.Dataset{
		Dates: []models.DateRow{
			{DateKey: 20230110, Date: d(1, 10)},
			{DateKey: 20230210, Date: d(2, 10)},
			{DateKey: 20230331, Date: d(3, 31)},
		},
		Products:  []models.ProductRow{{ProductID: 1, ProductName: "Widget", Category: "Hardware", Subcategory: "Tools"}},
		Channels:  []models.ChannelRow{{ChannelID: 1, ChannelName: "Online"}, {ChannelID: 2, ChannelName: "Retail"}},
		Customers: []models.CustomerRow{{CustomerID: 10, Country: "FR", Segment: "SMB"}},
		Sales: []models.SaleRow{
			{DateKey: 20230110, ProductID: 1, ChannelID: 1, CustomerID: 10, Qty: 1, UnitPrice: 100, Cost: 40},
			{DateKey: 20230210, ProductID: 1, ChannelID: 2, CustomerID: 10, Qty: 1, UnitPrice: 50, Cost: 20},
		},
		Subscriptions: []models.Subscription{{CustomerID: 10, StartDate: d(1, 1)}},
	}
}

type testServer struct {
	srv     *httptest.Server
	metrics *telemetry.Metrics
	loads   *int32
}

func newTestServer(t *testing.T, loadErr error) *testServer {
	t.Helper()
	var loads int32
	m := telemetry.New()
	datasets := cache.NewDatasetCache(func(context.Context) (*models.Dataset, error) {
		atomic.AddInt32(&loads, 1)
		if loadErr != nil {
			return nil, loadErr
		}
		return testDataset(), nil
	}, 0, nil, m)
	h := NewHandlers(datasets, cache.NewMemoryReportCache(time.Minute, m), calculator.New(nil, m), m, nil, Options{TopProducts: 5})

	srv := httptest.NewServer(NewRouter(h, nil))
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, metrics: m, loads: &loads}
}

func (ts *testServer) get(t *testing.T, path string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(ts.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestKPIs(t *testing.T) {
	ts := newTestServer(t, nil)

	code, body := ts.get(t, "/api/kpis")
	require.Equal(t, http.StatusOK, code, string(body))

	var k models.KPIs
	require.NoError(t, json.Unmarshal(body, &k))
	assert.InDelta(t, 150, float64(k.Revenue), 1e-9)
	assert.InDelta(t, 0.6, float64(k.GrossMarginPct), 1e-9)
	assert.Equal(t, 1, k.ActiveSubs)
}

func TestKPIs_Filters(t *testing.T) {
	ts := newTestServer(t, nil)

	code, body := ts.get(t, "/api/kpis?channel=Retail&extra_discount=0.2")
	require.Equal(t, http.StatusOK, code, string(body))
	var k models.KPIs
	require.NoError(t, json.Unmarshal(body, &k))
	assert.InDelta(t, 40, float64(k.Revenue), 1e-9)

	code, body = ts.get(t, "/api/kpis?from=2023-01-01&to=2023-01-31")
	require.Equal(t, http.StatusOK, code, string(body))
	require.NoError(t, json.Unmarshal(body, &k))
	assert.InDelta(t, 100, float64(k.Revenue), 1e-9)
}

func TestBadQueries(t *testing.T) {
	ts := newTestServer(t, nil)
	for _, q := range []string{
		"extra_discount=abc",
		"extra_discount=1.5",
		"extra_discount=NaN",
		"extra_discount=Inf",
		"from=yesterday",
		"from=2023-03-01&to=2023-01-01",
	} {
		t.Run(q, func(t *testing.T) {
			code, body := ts.get(t, "/api/kpis?"+q)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Contains(t, string(body), `"error"`)
		})
	}
}

func TestDashboard_NaNDiscountRejected(t *testing.T) {
	ts := newTestServer(t, nil)
	code, body := ts.get(t, "/api/dashboard?extra_discount=NaN")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.True(t, json.Valid(body))
	assert.Equal(t, 0.0, testutil.ToFloat64(ts.metrics.ReportsComputed))
}

func TestDatasetUnavailable(t *testing.T) {
	ts := newTestServer(t, errors.New("boom"))
	code, body := ts.get(t, "/api/dashboard")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.JSONEq(t, `{"error":"dataset unavailable"}`, string(body))
}

func TestDashboard_CachedReport(t *testing.T) {
	ts := newTestServer(t, nil)

	code, body := ts.get(t, "/api/dashboard")
	require.Equal(t, http.StatusOK, code)
	var rep models.Report
	require.NoError(t, json.Unmarshal(body, &rep))
	assert.NotEmpty(t, rep.Fingerprint)
	assert.Len(t, rep.Products.Top, 1)

	code, _ = ts.get(t, "/api/cohorts")
	require.Equal(t, http.StatusOK, code)

	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.ReportsComputed), "second call served from cache")
	assert.Equal(t, int32(1), atomic.LoadInt32(ts.loads))
}

func TestSections(t *testing.T) {
	ts := newTestServer(t, nil)
	for _, path := range []string{"/api/trend", "/api/products", "/api/marketing", "/api/budget", "/api/cohorts", "/api/quality"} {
		t.Run(path, func(t *testing.T) {
			code, body := ts.get(t, path)
			assert.Equal(t, http.StatusOK, code)
			assert.True(t, json.Valid(body))
		})
	}
}

func TestBudget_UndefinedAsNull(t *testing.T) {
	ts := newTestServer(t, nil)
	code, body := ts.get(t, "/api/budget")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"budget_revenue":null`)
}

func TestInvalidateCache(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.get(t, "/api/kpis")

	resp, err := http.Post(ts.srv.URL+"/api/cache/invalidate", "application/json", strings.NewReader(""))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ts.get(t, "/api/kpis")
	assert.Equal(t, int32(2), atomic.LoadInt32(ts.loads))
	assert.Equal(t, 2.0, testutil.ToFloat64(ts.metrics.ReportsComputed))
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, nil)

	code, body := ts.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"status":"ok"`)

	ts.get(t, "/api/kpis")
	code, body = ts.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `analytics_http_requests_total{code="200",route="/api/kpis"} 1`)
}
