package metrics

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedMetric struct {
	kind string
	name string
	tags map[string]string
}

type recordingSink struct {
	mu      sync.Mutex
	metrics []recordedMetric
}

func (r *recordingSink) Count(name string, _ int64, tags map[string]string) {
	r.add("count", name, tags)
}

func (r *recordingSink) Gauge(name string, _ float64, tags map[string]string) {
	r.add("gauge", name, tags)
}

func (r *recordingSink) Timing(name string, _ time.Duration, tags map[string]string) {
	r.add("timing", name, tags)
}

func (r *recordingSink) add(kind, name string, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = append(r.metrics, recordedMetric{kind: kind, name: name, tags: tags})
}

type customErr struct{}

func (*customErr) Error() string { return "custom" }

func TestEmitAuth(t *testing.T) {
	sink := &recordingSink{}
	EmitAuth(sink, AuthMetric{
		Operation: "login",
		Result:    ResultError,
		Duration:  25 * time.Millisecond,
		Err:       fmt.Errorf("exchange: %w", &customErr{}),
	})

	require.Len(t, sink.metrics, 2)
	assert.Equal(t, "auth.operation", sink.metrics[0].name)
	assert.Equal(t, "login", sink.metrics[0].tags["operation"])
	assert.Equal(t, "metrics_customerr", sink.metrics[0].tags["error_class"])
	assert.Equal(t, "timing", sink.metrics[1].kind)
}

func TestEmitAuth_RejectedWithoutDuration(t *testing.T) {
	sink := &recordingSink{}
	EmitAuth(sink, AuthMetric{Operation: "validate", Result: ResultRejected, Reason: "expired", Err: errors.New("x")})

	require.Len(t, sink.metrics, 1)
	assert.Equal(t, "expired", sink.metrics[0].tags["reason"])
	_, hasClass := sink.metrics[0].tags["error_class"]
	assert.False(t, hasClass)

	EmitAuth(nil, AuthMetric{Operation: "noop"})
}
