package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bloomberg/pushiko-sub000/internal/config"
	"github.com/bloomberg/pushiko-sub000/peer"
)

func TestDefaultConfigResolvesToAPNsProduction(t *testing.T) {
	c := config.DefaultConfig()
	p, err := c.Peer()
	require.NoError(t, err)
	require.Equal(t, peer.APNsProduction.Address, p.Address)
}

func TestUnknownPeerNameErrors(t *testing.T) {
	c := config.DefaultConfig()
	c.PeerName = "bogus"
	_, err := c.Peer()
	require.Error(t, err)
}

func TestPoolConfigCarriesName(t *testing.T) {
	c := config.DefaultConfig()
	pc := c.PoolConfig("test-pool")
	require.Equal(t, "test-pool", pc.Name)
	require.Equal(t, c.Pool.MaximumSize, pc.MaximumSize)
}
