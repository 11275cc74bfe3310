package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/withObsrvr/obsrvr-table-replicator/internal/copier"
)

func TestListenerRecordsCopierMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry(), "test")
	l := m.Listener()

	l.CopierStart("hdfs-s3")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CopiesInFlight))

	l.CopierEnd(copier.Metrics{BytesReplicated: 2048, FilesReplicated: 3, RowsVerified: 10, Duration: time.Second})

	assert.Equal(t, 0.0, testutil.ToFloat64(m.CopiesInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CopiesStarted.WithLabelValues("hdfs-s3")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(m.BytesReplicated.WithLabelValues("hdfs-s3")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.FilesReplicated.WithLabelValues("hdfs-s3")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.RowsVerified.WithLabelValues("hdfs-s3")))
}

func TestObserveReplication(t *testing.T) {
	m := New(prometheus.NewRegistry(), "test")

	m.ObserveReplication("db.t", "FULL", time.Second, nil)
	m.ObserveReplication("db.t", "FULL", time.Second, errors.New("boom"))
	m.AddPartitionsReplicated("db.t", 5)
	m.IncDataDeletions("db.t")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReplicationsTotal.WithLabelValues("db.t", "FULL", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReplicationsTotal.WithLabelValues("db.t", "FULL", "failure")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.PartitionsReplicated.WithLabelValues("db.t")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DataDeletions.WithLabelValues("db.t")))
	assert.Greater(t, testutil.ToFloat64(m.LastSuccess.WithLabelValues("db.t")), 0.0)
}

func TestNewRegistersIndependently(t *testing.T) {
	// Separate registries must not collide.
	New(prometheus.NewRegistry(), "")
	New(prometheus.NewRegistry(), "")
}
