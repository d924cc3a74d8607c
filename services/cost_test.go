package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCost(t *testing.T, dailyLimit float64) (*CostService, *PostgresService) {
	t.Helper()
	store := newTestStore(t)
	svc := &CostService{
		dailyLimitUSD:   dailyLimit,
		hourlyReference: dailyLimit / 24,
		highVolumeCount: 500,
		sqlSvc:          store,
	}
	return svc, store
}

func TestEstimateCost(t *testing.T) {
	svc, _ := newTestCost(t, 50)

	tests := []struct {
		model  string
		in     int
		out    int
		expect float64
	}{
		{"gpt-4o-mini", 1000, 1000, 0.00075},
		{"gpt-4o", 2000, 500, 0.01},
		{"gpt-4o-realtime-preview", 1000, 0, 0.005},
		{"some-future-model", 1000, 1000, 0.04},
	}
	for _, tc := range tests {
		assert.InDelta(t, tc.expect, svc.EstimateCost(tc.in, tc.out, tc.model), 1e-9, tc.model)
	}
}

func TestCostCeilingDenies(t *testing.T) {
	svc, _ := newTestCost(t, 1.0)

	require.NoError(t, svc.RecordCost(0.5, 100, 100))
	result := svc.CheckLimits()
	assert.True(t, result.Allowed)
	assert.InDelta(t, 0.5, result.DailyCost, 1e-9)

	require.NoError(t, svc.RecordCost(0.6, 100, 100))
	result = svc.CheckLimits()
	assert.False(t, result.Allowed)
	assert.Equal(t, "daily cost ceiling reached", result.Reason)

	// The check itself consumes nothing; denial is stable.
	result = svc.CheckLimits()
	assert.False(t, result.Allowed)
	assert.InDelta(t, 1.1, result.DailyCost, 1e-9)
}

func TestCostLedgerIsPerDay(t *testing.T) {
	svc, store := newTestCost(t, 1.0)

	yesterday := utcDate(time.Now().AddDate(0, 0, -1))
	require.NoError(t, store.AddCost(yesterday, 5.0, 1000))

	result := svc.CheckLimits()
	assert.True(t, result.Allowed, "yesterday's spend does not count against today")
	assert.Zero(t, result.DailyCost)
}

func TestCostFailsOpenOnStorageError(t *testing.T) {
	svc, store := newTestCost(t, 1.0)

	sqlDB, err := store.Db().DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	result := svc.CheckLimits()
	assert.True(t, result.Allowed, "an unreadable ledger must not take the service down")
}

func TestRecordCostRejectsNegative(t *testing.T) {
	svc, _ := newTestCost(t, 50)
	assert.Error(t, svc.RecordCost(-0.1, 10, 10))
}

func TestCostReports(t *testing.T) {
	svc, store := newTestCost(t, 50)

	today := utcDate(time.Now())
	yesterday := utcDate(time.Now().AddDate(0, 0, -1))
	require.NoError(t, store.AddCost(today, 1.5, 300))
	require.NoError(t, store.AddCost(today, 0.5, 100))
	require.NoError(t, store.AddCost(yesterday, 2.0, 400))

	daily, err := svc.DailyReport(today)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, daily.TotalCost, 1e-9)
	assert.Equal(t, int64(2), daily.RequestCount)
	assert.Equal(t, int64(400), daily.TokenCount)

	ranged, err := svc.RangeReport(2)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, ranged.TotalCost, 1e-9)
	assert.Equal(t, int64(3), ranged.RequestCount)
}
