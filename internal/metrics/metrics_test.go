package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	assert := assert.New(t)

	m := New(prometheus.NewRegistry())
	m.Login("success")
	m.Login("success")
	m.Login("invalid_credentials")
	m.Registration("already_exists")
	m.Notification("sent")
	m.TokensRevoked(3)
	m.TokensRevoked(0)
	m.TokensPurged(2)

	assert.Equal(2.0, testutil.ToFloat64(m.logins.WithLabelValues("success")))
	assert.Equal(1.0, testutil.ToFloat64(m.logins.WithLabelValues("invalid_credentials")))
	assert.Equal(1.0, testutil.ToFloat64(m.registrations.WithLabelValues("already_exists")))
	assert.Equal(1.0, testutil.ToFloat64(m.notifications.WithLabelValues("sent")))
	assert.Equal(3.0, testutil.ToFloat64(m.revoked))
	assert.Equal(2.0, testutil.ToFloat64(m.purged))

	t.Run("Nil is a no-op", func(t *testing.T) {
		var nilMetrics *Metrics
		nilMetrics.Login("success")
		nilMetrics.TokensRevoked(1)
	})
}
