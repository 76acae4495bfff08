package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCollectorCountsLedgerOperations(t *testing.T) {
	c := NewCollector()

	c.RecordOperation(OperationCreateBatch, true, time.Millisecond)
	c.RecordOperation(OperationLogEvent, true, 2*time.Millisecond)
	c.RecordOperation(OperationLogEvent, true, 4*time.Millisecond)
	c.RecordOperation(OperationProject, false, time.Millisecond)
	c.RecordHashMismatch()

	s := c.Snapshot()
	require.Equal(t, int64(1), s.Counters[CounterBatchesCreated])
	require.Equal(t, int64(2), s.Counters[CounterEventsLogged])
	require.Equal(t, int64(1), s.Counters[CounterProjectionsFailed])
	require.Equal(t, int64(1), s.Counters[CounterHashMismatches])
	require.Equal(t, int64(2), s.Operations[OperationLogEvent])
	require.Equal(t, int64(1), s.Errors[ErrorTypeTamper])
	require.InDelta(t, 3.0, s.LatenciesMs["op:"+OperationLogEvent], 0.001)
}

func TestCollectorHTTPAndDatabase(t *testing.T) {
	c := NewCollector()

	c.RecordHTTPRequest("/api/v1/batches", 201, time.Millisecond)
	c.RecordHTTPRequest("/api/v1/batches", 409, time.Millisecond)
	c.RecordDatabaseQuery(DBQueryTypeInsert, true, time.Millisecond)
	c.RecordDatabaseQuery(DBQueryTypeSelect, false, time.Millisecond)

	s := c.Snapshot()
	require.Equal(t, int64(2), s.Counters[CounterHTTPRequests])
	require.Equal(t, int64(1), s.Counters[CounterHTTPRequestsError])
	require.Equal(t, int64(2), s.Counters[CounterDBQueriesTotal])
	require.Equal(t, int64(1), s.Counters[CounterDBQueriesError])
	require.Equal(t, int64(1), s.Queries[DBQueryTypeInsert])
}

func TestSnapshotIsACopy(t *testing.T) {
	c := NewCollector()
	c.IncrementCounter(CounterErrorsTotal, 1)

	s := c.Snapshot()
	s.Counters[CounterErrorsTotal] = 100

	require.Equal(t, int64(1), c.Snapshot().Counters[CounterErrorsTotal])
}

func TestSamplesAreBounded(t *testing.T) {
	c := NewCollector()
	c.maxSamples = 3
	for i := 0; i < 10; i++ {
		c.RecordOperation(OperationVerify, true, time.Duration(i)*time.Millisecond)
	}

	require.Len(t, c.latencies["op:"+OperationVerify], 3)
	require.InDelta(t, 8.0, c.Snapshot().LatenciesMs["op:"+OperationVerify], 0.001)
}

func TestCollectorConcurrentUse(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordOperation(OperationLogEvent, true, time.Microsecond)
			c.SetGauge(GaugeOutboxBacklog, 1)
			_ = c.Snapshot()
		}()
	}
	wg.Wait()

	require.Equal(t, int64(20), c.Snapshot().Counters[CounterEventsLogged])
}

func TestGetCollectorIsShared(t *testing.T) {
	require.Same(t, GetCollector(), GetCollector())
}
