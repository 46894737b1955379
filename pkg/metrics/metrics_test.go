package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("portal", reg)

	m.ForcedLogouts.Inc()
	m.UpstreamRequests.WithLabelValues("GET", "/user/doctors", "200").Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ForcedLogouts))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "portal_upstream_forced_logouts_total")
	assert.Contains(t, names, "portal_upstream_requests_total")
}

func TestNewTwiceOnSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewNop()
		NewNop()
	})
}
