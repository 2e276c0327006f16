package peer_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bloomberg/pushiko-sub000/peer"
)

func TestAPNsProductionHasNoMaxAge(t *testing.T) {
	require.Equal(t, time.Duration(0), peer.APNsProduction.MaximumConnectionAge)
	require.False(t, peer.APNsProduction.WantsALPN)
}

func TestFCMWantsALPNAndShortWatermarks(t *testing.T) {
	require.True(t, peer.FCM.WantsALPN)
	require.Equal(t, 59*time.Minute, peer.FCM.MaximumConnectionAge)
	require.Equal(t, 30, peer.FCM.LowWatermark)
	require.Equal(t, 150, peer.FCM.HighWatermark)
	require.False(t, peer.FCM.MonitorConnectionHealth)
}

func TestAPNsDevelopmentHasShortMaxAge(t *testing.T) {
	require.Equal(t, 10*time.Minute, peer.APNsDevelopment.MaximumConnectionAge)
}
