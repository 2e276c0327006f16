package mockserver_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bloomberg/pushiko-sub000/mockserver"
)

func TestServerStartsAndStops(t *testing.T) {
	s, err := mockserver.New()
	require.NoError(t, err)
	require.NotEmpty(t, s.Address)
	require.Equal(t, int64(0), s.Crashes())
	require.NoError(t, s.Close())
}

func TestTLSConfigTrustsRoot(t *testing.T) {
	s, err := mockserver.New()
	require.NoError(t, err)
	defer s.Close()
	cfg := s.TLSConfig()
	require.NotNil(t, cfg.RootCAs)
	time.Sleep(10 * time.Millisecond) // let the listener goroutine start accepting
}
