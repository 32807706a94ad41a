package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"connectsphere/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollector_RecordsSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionClosed()
	c.SetOnlineUsers(3)
	c.RelayDelivered(domain.EventMessage, 4)
	c.RelayOffline(domain.EventTyping)
	c.FrameDropped()
	c.EnvelopeRejected("")
	c.EnvelopeRejected("call:signal")
	c.CallTransition(domain.CallEnded, domain.ReasonTimeout)
	c.CallDuration(90 * time.Second)
	c.SignalDropped()
	c.PersistFailed(5)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.connectionsOpen))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.connectionsTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.onlineUsers))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.relayDelivered.WithLabelValues("message")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.relayOffline.WithLabelValues("typing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.envelopesRejected.WithLabelValues("unknown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.callTransitions.WithLabelValues(string(domain.CallEnded), string(domain.ReasonTimeout))))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.persistFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.signalsDropped))
}

func TestPrometheusCollector_CallSessionGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)
	c.ObserveCallSessions(func() int { return 2 }, func() int { return 7 })

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		if mf.GetType().String() == "GAUGE" && len(mf.GetMetric()) == 1 {
			values[mf.GetName()] = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, 2.0, values["connectsphere_call_sessions_live"])
	assert.Equal(t, 7.0, values["connectsphere_call_sessions_retained"])
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthChecker(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("registry", true, time.Second, func(context.Context) error { return nil })
	h.AddPingCheck("mongo", false, time.Second, pingFunc(func(context.Context) error { return errors.New("no reachable servers") }))

	h.AddInfo("call_sessions", func() interface{} { return 3 })

	status := h.CheckAll(context.Background())
	assert.Equal(t, StatusDegraded, status.Status)
	assert.Equal(t, 3, status.Info["call_sessions"])
	assert.Equal(t, StatusHealthy, status.Checks["registry"])
	assert.Equal(t, "no reachable servers", status.Checks["mongo"])
	assert.True(t, h.IsReady(context.Background()))

	h.AddCheck("calls", true, 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	status = h.CheckAll(context.Background())
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.False(t, h.IsReady(context.Background()))
}
