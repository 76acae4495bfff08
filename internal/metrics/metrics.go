package metrics

import (
	"sync"
	"time"
)

// Counter metrics
const (
	CounterHTTPRequests        = "http_requests_total"
	CounterHTTPRequestsSuccess = "http_requests_success_total"
	CounterHTTPRequestsError   = "http_requests_error_total"
	CounterBatchesCreated      = "batches_created_total"
	CounterEventsLogged        = "events_logged_total"
	CounterVerifications       = "verifications_total"
	CounterHashMismatches      = "hash_mismatches_total"
	CounterProjectionsApplied  = "projections_applied_total"
	CounterProjectionsFailed   = "projections_failed_total"
	CounterMessagesSent        = "messages_sent_total"
	CounterMessagesReceived    = "messages_received_total"
	CounterMessagesError       = "messages_error_total"
	CounterDBQueriesTotal      = "db_queries_total"
	CounterDBQueriesError      = "db_queries_error_total"
	CounterErrorsTotal         = "errors_total"
)

// Gauge metrics
const (
	GaugeOutboxBacklog = "outbox_backlog"
	GaugeBatches       = "batches"
	GaugeEvents        = "events"
)

// Ledger operations
const (
	OperationCreateBatch = "create_batch"
	OperationLogEvent    = "log_event"
	OperationVerify      = "verify"
	OperationAudit       = "audit"
	OperationProject     = "project"
	OperationUpload      = "upload"
	OperationAnalyze     = "analyze"
)

// Database query types
const (
	DBQueryTypeSelect = "select"
	DBQueryTypeInsert = "insert"
	DBQueryTypeUpdate = "update"
	DBQueryTypeDelete = "delete"
)

// Message bus operations
const (
	MessageBusOperationSend    = "send"
	MessageBusOperationReceive = "receive"
)

// Error types
const (
	ErrorTypeHTTP       = "http"
	ErrorTypeValidation = "validation"
	ErrorTypeDatabase   = "database"
	ErrorTypeMessageBus = "message_bus"
	ErrorTypeTamper     = "tamper"
	ErrorTypeInternal   = "internal"
)

// Collector keeps in-process counters, gauges and latency samples
type Collector struct {
	mutex      sync.RWMutex
	counters   map[string]int64
	gauges     map[string]float64
	operations map[string]int64
	queries    map[string]int64
	errors     map[string]int64
	latencies  map[string][]time.Duration
	startTime  time.Time
	maxSamples int
}

// NewCollector creates an empty collector
func NewCollector() *Collector {
	return &Collector{
		counters:   make(map[string]int64),
		gauges:     make(map[string]float64),
		operations: make(map[string]int64),
		queries:    make(map[string]int64),
		errors:     make(map[string]int64),
		latencies:  make(map[string][]time.Duration),
		startTime:  time.Now(),
		maxSamples: 1000,
	}
}

// IncrementCounter increments a counter by the given value
func (m *Collector) IncrementCounter(name string, value int64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.counters[name] += value
}

// SetGauge sets a gauge to the given value
func (m *Collector) SetGauge(name string, value float64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.gauges[name] = value
}

// RecordHTTPRequest records one served request
func (m *Collector) RecordHTTPRequest(route string, statusCode int, latency time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.counters[CounterHTTPRequests]++
	if statusCode >= 200 && statusCode < 400 {
		m.counters[CounterHTTPRequestsSuccess]++
	} else {
		m.counters[CounterHTTPRequestsError]++
		m.errors[ErrorTypeHTTP]++
	}
	m.sample("http:"+route, latency)
}

// RecordOperation records a ledger operation and whether it succeeded
func (m *Collector) RecordOperation(operation string, success bool, latency time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.operations[operation]++
	if success {
		switch operation {
		case OperationCreateBatch:
			m.counters[CounterBatchesCreated]++
		case OperationLogEvent:
			m.counters[CounterEventsLogged]++
		case OperationVerify:
			m.counters[CounterVerifications]++
		case OperationProject:
			m.counters[CounterProjectionsApplied]++
		}
	} else {
		if operation == OperationProject {
			m.counters[CounterProjectionsFailed]++
		}
		m.errors[ErrorTypeInternal]++
	}
	m.sample("op:"+operation, latency)
}

// RecordHashMismatch counts a detected tampered event
func (m *Collector) RecordHashMismatch() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.counters[CounterHashMismatches]++
	m.errors[ErrorTypeTamper]++
}

// RecordMessageBusOperation records a send or receive on the message bus
func (m *Collector) RecordMessageBusOperation(operation string, success bool, latency time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	switch operation {
	case MessageBusOperationSend:
		m.counters[CounterMessagesSent]++
	case MessageBusOperationReceive:
		m.counters[CounterMessagesReceived]++
	}
	if !success {
		m.counters[CounterMessagesError]++
		m.errors[ErrorTypeMessageBus]++
	}
	m.sample("bus:"+operation, latency)
}

// RecordDatabaseQuery records metrics for a database query
func (m *Collector) RecordDatabaseQuery(queryType string, success bool, latency time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.queries[queryType]++
	m.counters[CounterDBQueriesTotal]++
	if !success {
		m.counters[CounterDBQueriesError]++
		m.errors[ErrorTypeDatabase]++
	}
	m.sample("db:"+queryType, latency)
}

// RecordError records an error of the given type
func (m *Collector) RecordError(errorType string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.errors[errorType]++
	m.counters[CounterErrorsTotal]++
}

// caller holds the write lock
func (m *Collector) sample(key string, latency time.Duration) {
	samples := m.latencies[key]
	if len(samples) >= m.maxSamples {
		samples = samples[1:]
	}
	m.latencies[key] = append(samples, latency)
}

// Snapshot is a point-in-time copy of the collected metrics
type Snapshot struct {
	UptimeSeconds float64            `json:"uptime_seconds"`
	Counters      map[string]int64   `json:"counters"`
	Gauges        map[string]float64 `json:"gauges"`
	Operations    map[string]int64   `json:"operation_counts"`
	Queries       map[string]int64   `json:"database_query_counts"`
	Errors        map[string]int64   `json:"error_counts"`
	LatenciesMs   map[string]float64 `json:"average_latencies_ms"`
}

// Snapshot copies the current values
func (m *Collector) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	averages := make(map[string]float64, len(m.latencies))
	for key, samples := range m.latencies {
		if len(samples) == 0 {
			continue
		}
		var sum time.Duration
		for _, l := range samples {
			sum += l
		}
		averages[key] = float64(sum.Microseconds()) / 1000 / float64(len(samples))
	}

	return Snapshot{
		UptimeSeconds: time.Since(m.startTime).Seconds(),
		Counters:      copyInts(m.counters),
		Gauges:        copyFloats(m.gauges),
		Operations:    copyInts(m.operations),
		Queries:       copyInts(m.queries),
		Errors:        copyInts(m.errors),
		LatenciesMs:   averages,
	}
}

func copyInts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyFloats(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var (
	globalCollector *Collector
	once            sync.Once
)

// GetCollector returns the process-wide collector
func GetCollector() *Collector {
	once.Do(func() {
		globalCollector = NewCollector()
	})
	return globalCollector
}
