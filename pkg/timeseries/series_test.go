package timeseries

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"analytics-engine/pkg/metrics"
	"analytics-engine/pkg/period"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func monthly(start period.Key, values ...float64) Series {
	s := make(Series, 0, len(values))
	k := start
	for _, v := range values {
		s = append(s, Point{Period: k, Value: v})
		k = k.Next()
	}
	return s
}

func TestYoY_UndefinedForFirstTwelve(t *testing.T) {
	values := make([]float64, 24)
	for i := range values {
		values[i] = float64(100 + i)
	}
	got := YoY(monthly(20220101, values...))

	require.Len(t, got, 24)
	for i := 0; i < 12; i++ {
		assert.True(t, metrics.IsUndefined(got[i].Value), "period %d", i)
	}
	for i := 12; i < 24; i++ {
		want := (values[i] - values[i-12]) / values[i-12]
		assert.InDelta(t, want, got[i].Value, 1e-12, "period %d", i)
	}
	assert.Equal(t, period.Key(20230101), got[12].Period)
}

func TestYoY_ZeroDenominatorIsUndefined(t *testing.T) {
	values := make([]float64, 13)
	values[12] = 50
	got := YoY(monthly(20220101, values...))
	assert.True(t, metrics.IsUndefined(got[12].Value))
}

func TestYoY_ShortSeries(t *testing.T) {
	got := YoY(monthly(20230101, 1, 2, 3))
	assert.Empty(t, DropUndefined(got))
	assert.Empty(t, YoY(nil))
}

func TestMonthlySum(t *testing.T) {
	obs := []Observation{
		{Date: time.Date(2023, 2, 3, 0, 0, 0, 0, time.UTC), Value: 5},
		{Date: time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC), Value: 2},
		{Date: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), Value: 3},
		{Date: time.Date(2023, 2, 10, 0, 0, 0, 0, time.UTC), Value: math.NaN()},
		{Date: time.Date(2023, 3, 10, 0, 0, 0, 0, time.UTC), Value: math.NaN()},
		{Date: time.Time{}, Value: 1000},
	}
	got := MonthlySum(obs)

	require.Len(t, got, 3)
	assert.Equal(t, Point{Period: 20230101, Value: 5}, got[0])
	assert.Equal(t, Point{Period: 20230201, Value: 5}, got[1])
	assert.Equal(t, period.Key(20230301), got[2].Period)
	assert.True(t, metrics.IsUndefined(got[2].Value), "all-undefined month stays undefined")
}

func TestReindex(t *testing.T) {
	s := Series{{Period: 20230101, Value: 1}, {Period: 20230401, Value: 4}}
	got := Reindex(s, 0)
	assert.Equal(t, monthly(20230101, 1, 0, 0, 4), got)
}

func TestLast(t *testing.T) {
	p, ok := Last(monthly(20230101, 1, 2))
	assert.True(t, ok)
	assert.Equal(t, 2.0, p.Value)
	_, ok = Last(nil)
	assert.False(t, ok)
}

func TestPoint_JSON(t *testing.T) {
	raw, err := json.Marshal(Series{{Period: 20230101, Value: 0.25}, {Period: 20230201, Value: math.NaN()}})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"period":"2023-01","value":0.25},{"period":"2023-02","value":null}]`, string(raw))
}
