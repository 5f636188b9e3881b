package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilReceiversAreNoops(t *testing.T) {
	var s Set
	s.Recommit.Document(ResultWritten)
	s.Recommit.Batch(time.Second)
	s.Recommit.Abort()
	s.Scan.Documents(3)
	s.Scan.UnknownPaths(1)
	s.Scan.TagUnits("7", 10)
	s.Planner.Index("created", 2)
}

func TestCountersRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New(reg)

	s.Recommit.Document(ResultWritten)
	s.Recommit.Document(ResultFailed)
	s.Recommit.Document(ResultFailed)
	s.Recommit.Batch(20 * time.Millisecond)
	s.Scan.Documents(250)
	s.Scan.TagUnits("7", 42)
	s.Planner.Index("created", 2)
	s.Planner.Index("dropped", 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	assert.Equal(t, 2.0, testutil.ToFloat64(s.Recommit.documents.WithLabelValues(ResultFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Recommit.batches))
	assert.Equal(t, 250.0, testutil.ToFloat64(s.Scan.documents))
	assert.Equal(t, 42.0, testutil.ToFloat64(s.Scan.tagUnits.WithLabelValues("7")))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.Planner.indexes.WithLabelValues("created")))
	assert.Equal(t, 1, testutil.CollectAndCount(s.Planner.indexes))
}

func TestDoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
