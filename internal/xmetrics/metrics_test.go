package xmetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/bloomberg/pushiko-sub000/internal/xmetrics"
)

func TestNewCollectorsRegistersGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := xmetrics.NewCollectors(reg, "pushiko_test")
	require.NotNil(t, c)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	require.True(t, names["pushiko_test_connection_count"])
	require.True(t, names["pushiko_test_pending_creation_count"])
	require.True(t, names["pushiko_test_pending_acquisitions"])
}
