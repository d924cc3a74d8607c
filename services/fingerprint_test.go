package services

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintIsDeterministic(t *testing.T) {
	a := Fingerprint("Mozilla/5.0", "en-US", "gzip, br", "text/html")
	b := Fingerprint("Mozilla/5.0", "en-US", "gzip, br", "text/html")
	assert.Equal(t, a, b)
	assert.Len(t, a, 8)

	c := Fingerprint("Mozilla/5.0", "de-DE", "gzip, br", "text/html")
	assert.NotEqual(t, a, c)

	// Field order matters; swapped values must not collide.
	d := Fingerprint("en-US", "Mozilla/5.0", "gzip, br", "text/html")
	assert.NotEqual(t, a, d)
}

func TestFingerprintTrackFlagsWideIPFanout(t *testing.T) {
	svc := &FingerprintService{sqlSvc: newTestStore(t)}

	hash := Fingerprint("HeadlessBot/1.0", "en-US", "gzip", "*/*")

	var last int64
	for i := 0; i < 49; i++ {
		result, err := svc.Track(hash, fmt.Sprintf("203.0.113.%d", i), fmt.Sprintf("sess-%d", i))
		require.NoError(t, err)
		assert.False(t, result.IsSuspicious)
		last = result.IPCount
	}
	assert.Equal(t, int64(49), last)

	result, err := svc.Track(hash, "203.0.113.49", "sess-49")
	require.NoError(t, err)
	assert.True(t, result.IsSuspicious, "fifty distinct IPs in a day flags the fingerprint")
	assert.Equal(t, int64(50), result.IPCount)
	assert.Contains(t, result.Reason, "50 distinct IPs")
}

func TestFingerprintRepeatIPsDoNotInflateCount(t *testing.T) {
	svc := &FingerprintService{sqlSvc: newTestStore(t)}

	hash := Fingerprint("Mozilla/5.0", "en-US", "gzip", "text/html")
	for i := 0; i < 5; i++ {
		result, err := svc.Track(hash, "192.0.2.10", "sess-same")
		require.NoError(t, err)
		assert.False(t, result.IsSuspicious)
		assert.Equal(t, int64(1), result.IPCount)
	}

	record, err := svc.sqlSvc.GetFingerprint(hash)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, int64(5), record.RequestCount)
}
