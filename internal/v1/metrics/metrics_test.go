package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectorsRegistered(t *testing.T) {
	collect := func(c prometheus.Collector) int {
		ch := make(chan prometheus.Metric, 16)
		go func() {
			c.Collect(ch)
			close(ch)
		}()
		n := 0
		for range ch {
			n++
		}
		return n
	}

	// Gauges always expose a sample; vectors only after first label use.
	assert.GreaterOrEqual(t, collect(ActiveWebSocketConnections), 1)
	assert.GreaterOrEqual(t, collect(ActiveRooms), 1)

	RoomMembers.WithLabelValues("TEST00").Set(2)
	assert.GreaterOrEqual(t, collect(RoomMembers), 1)
	RoomMembers.DeleteLabelValues("TEST00")
}

func TestConnectionHelpers(t *testing.T) {
	before := testutil.ToFloat64(ActiveWebSocketConnections)

	IncConnection()
	assert.Equal(t, before+1, testutil.ToFloat64(ActiveWebSocketConnections))

	DecConnection()
	assert.Equal(t, before, testutil.ToFloat64(ActiveWebSocketConnections))
}

func TestOperationCounters(t *testing.T) {
	before := testutil.ToFloat64(OperationsApplied.WithLabelValues("insert"))
	OperationsApplied.WithLabelValues("insert").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(OperationsApplied.WithLabelValues("insert")))

	OperationsRejected.WithLabelValues("invalid").Inc()
	assert.GreaterOrEqual(t, testutil.ToFloat64(OperationsRejected.WithLabelValues("invalid")), 1.0)
}
