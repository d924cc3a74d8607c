package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aria-access/aria_api/model"
)

func newTestScorer(t *testing.T) (*SuspicionService, *PostgresService) {
	t.Helper()
	store := newTestStore(t)
	svc := &SuspicionService{rules: defaultRules(), sqlSvc: store}
	return svc, store
}

func seedActivity(t *testing.T, store *PostgresService, sessionID, ip string, timestamps []time.Time) {
	t.Helper()
	for _, ts := range timestamps {
		require.NoError(t, store.AppendUsageLog(&model.UsageLog{
			SessionID: sessionID,
			Endpoint:  "chat",
			IPAddress: ip,
			CreatedAt: ts,
		}))
	}
}

// evenlySpaced returns n timestamps ending at now, each gap apart.
func evenlySpaced(n int, gap time.Duration) []time.Time {
	now := time.Now()
	out := make([]time.Time, 0, n)
	for i := n - 1; i >= 0; i-- {
		out = append(out, now.Add(-time.Duration(i)*gap))
	}
	return out
}

func TestScoreGracePeriod(t *testing.T) {
	svc, store := newTestScorer(t)

	// Perfectly robotic timing, but only four records.
	seedActivity(t, store, "sess-g", "198.51.100.1", evenlySpaced(4, 100*time.Millisecond))

	result, err := svc.Score("sess-g", "chat", "198.51.100.1")
	require.NoError(t, err)
	assert.False(t, result.IsSuspicious)
	assert.Zero(t, result.Score)
}

func TestScoreRoboticTiming(t *testing.T) {
	svc, store := newTestScorer(t)

	// Twenty requests exactly 100ms apart: machine-gun timing plus rapid
	// deltas pushes past the threshold.
	seedActivity(t, store, "sess-r", "198.51.100.2", evenlySpaced(20, 100*time.Millisecond))

	result, err := svc.Score("sess-r", "chat", "198.51.100.2")
	require.NoError(t, err)
	assert.True(t, result.IsSuspicious)
	assert.GreaterOrEqual(t, result.Score, 5)
	assert.Contains(t, result.Reason, "consistent request timing")
	assert.Contains(t, result.Reason, "rapid-fire")
}

func TestScoreHumanTiming(t *testing.T) {
	svc, store := newTestScorer(t)

	// Irregular gaps from seconds to minutes.
	now := time.Now()
	gaps := []time.Duration{0, 3 * time.Second, 19 * time.Second, 71 * time.Second,
		95 * time.Second, 240 * time.Second, 411 * time.Second, 702 * time.Second}
	timestamps := make([]time.Time, 0, len(gaps))
	for _, g := range gaps {
		timestamps = append(timestamps, now.Add(-g))
	}
	seedActivity(t, store, "sess-h", "198.51.100.3", timestamps)

	result, err := svc.Score("sess-h", "chat", "198.51.100.3")
	require.NoError(t, err)
	assert.False(t, result.IsSuspicious)
	assert.Zero(t, result.Score)
	assert.Empty(t, result.Reason)
}

func TestScoreNoSingleWeakSignalFlags(t *testing.T) {
	svc, store := newTestScorer(t)

	// A few rapid bursts inside otherwise irregular traffic: the rapid-delta
	// rule fires alone and stays under the threshold.
	now := time.Now()
	gaps := []time.Duration{0, 150 * time.Millisecond, 2050 * time.Millisecond,
		2200 * time.Millisecond, 4100 * time.Millisecond, 4250 * time.Millisecond,
		60 * time.Second, 200 * time.Second, 500 * time.Second, 1500 * time.Second}
	timestamps := make([]time.Time, 0, len(gaps))
	for _, g := range gaps {
		timestamps = append(timestamps, now.Add(-g))
	}
	seedActivity(t, store, "sess-w", "198.51.100.4", timestamps)

	result, err := svc.Score("sess-w", "chat", "198.51.100.4")
	require.NoError(t, err)
	assert.False(t, result.IsSuspicious)
	assert.Less(t, result.Score, 5)
}

func TestScoreManySessionsPerIP(t *testing.T) {
	svc, store := newTestScorer(t)

	ip := "198.51.100.5"
	now := time.Now()

	// 25 other sessions from the same address inside the volume window.
	for i := 0; i < 25; i++ {
		seedActivity(t, store, fmt.Sprintf("farm-%d", i), ip, []time.Time{now.Add(-time.Minute)})
	}

	// The scored session itself looks calm: irregular, spread over 20 minutes.
	gaps := []time.Duration{0, 2 * time.Minute, 5 * time.Minute, 11 * time.Minute,
		16 * time.Minute, 20 * time.Minute}
	timestamps := make([]time.Time, 0, len(gaps))
	for _, g := range gaps {
		timestamps = append(timestamps, now.Add(-g))
	}
	seedActivity(t, store, "sess-farm", ip, timestamps)

	result, err := svc.Score("sess-farm", "chat", ip)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Score, "IP fan-out alone scores 3 and does not flag")
	assert.False(t, result.IsSuspicious)
}

func TestScoreSignalsCompound(t *testing.T) {
	svc, store := newTestScorer(t)

	ip := "198.51.100.6"
	now := time.Now()

	// Robotic timing from an address already hosting two dozen sessions: two
	// independent signals compound past the threshold.
	for i := 0; i < 22; i++ {
		seedActivity(t, store, fmt.Sprintf("peer-%d", i), ip, []time.Time{now.Add(-30 * time.Second)})
	}
	seedActivity(t, store, "sess-c", ip, evenlySpaced(8, 900*time.Millisecond))

	result, err := svc.Score("sess-c", "chat", ip)
	require.NoError(t, err)
	assert.True(t, result.IsSuspicious)
	assert.GreaterOrEqual(t, result.Score, 5)
}
