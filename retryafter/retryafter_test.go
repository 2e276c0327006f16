package retryafter_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bloomberg/pushiko-sub000/retryafter"
)

func TestParseSeconds(t *testing.T) {
	d, ok := retryafter.Parse("120", time.Now())
	require.True(t, ok)
	require.Equal(t, 120*time.Second, d)
}

func TestParseNegativeSecondsClampsToZero(t *testing.T) {
	d, ok := retryafter.Parse("-5", time.Now())
	require.True(t, ok)
	require.Equal(t, time.Duration(0), d)
}

func TestParseHTTPDate(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	future := now.Add(90 * time.Second).Format(http.TimeFormat)
	d, ok := retryafter.Parse(future, now)
	require.True(t, ok)
	require.InDelta(t, 90*time.Second, d, float64(time.Second))
}

func TestParsePastDateClampsToZero(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-90 * time.Second).Format(http.TimeFormat)
	d, ok := retryafter.Parse(past, now)
	require.True(t, ok)
	require.Equal(t, time.Duration(0), d)
}

func TestParseMalformedReturnsFalse(t *testing.T) {
	_, ok := retryafter.Parse("not-a-value", time.Now())
	require.False(t, ok)
}

func TestParseEmptyReturnsFalse(t *testing.T) {
	_, ok := retryafter.Parse("", time.Now())
	require.False(t, ok)
}
