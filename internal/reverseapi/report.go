package reverseapi

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"dbmflow/internal/metrics"
	"github.com/IBM/sarama"
	"github.com/xeipuuv/gojsonschema"
)

// reportEventSchema is what every agent-submitted event must satisfy
// before anything is published.
const reportEventSchema = `{
	"type": "object",
	"required": ["event_type"],
	"properties": {
		"event_type": {"type": "string", "minLength": 1}
	}
}`

// EventError describes one rejected event in a batch. The offending
// event is echoed back so agents can match failures without counting.
type EventError struct {
	Index  int            `json:"index"`
	Event  map[string]any `json:"event"`
	Reason string         `json:"reason"`
}

// BatchError carries every rejected event of a sync_report batch.
type BatchError struct {
	Events []EventError `json:"events"`
}

func (e *BatchError) Error() string {
	parts := make([]string, 0, len(e.Events))
	for _, ev := range e.Events {
		parts = append(parts, fmt.Sprintf("event %d: %s", ev.Index, ev.Reason))
	}
	return "sync report rejected: " + strings.Join(parts, "; ")
}

// Reporter publishes agent events to Kafka through the shared producer
// pool.
type Reporter struct {
	Pool *ProducerPool

	// Now is a seam for tests.
	Now func() time.Time
}

func NewReporter(pool *ProducerPool) *Reporter {
	return &Reporter{Pool: pool, Now: time.Now}
}

// SyncReport validates the whole batch, then publishes one message per
// event with topic == event_type. Validation is all or nothing: a
// single bad event means zero messages reach Kafka and the caller gets
// every failure listed by index.
func (r *Reporter) SyncReport(bkCloudID int64, ip string, events []map[string]any) error {
	var batchErr BatchError
	schema := gojsonschema.NewStringLoader(reportEventSchema)
	for i, event := range events {
		result, err := gojsonschema.Validate(schema, gojsonschema.NewGoLoader(event))
		if err != nil {
			batchErr.Events = append(batchErr.Events, EventError{Index: i, Event: event, Reason: err.Error()})
			continue
		}
		if !result.Valid() {
			batchErr.Events = append(batchErr.Events, EventError{Index: i, Event: event, Reason: result.Errors()[0].String()})
		}
	}
	if len(batchErr.Events) > 0 {
		return &batchErr
	}
	now := r.Now().Unix()
	for _, event := range events {
		event["event_source_ip"] = ip
		event["event_receive_timestamp"] = now
		event["event_bk_cloud_id"] = bkCloudID
		topic := event["event_type"].(string)
		body, err := json.Marshal(event)
		if err != nil {
			metrics.ReverseReportEventsTotal.WithLabelValues(topic, "error").Inc()
			return fmt.Errorf("encode event for %s: %w", topic, err)
		}
		producer, err := r.Pool.Pick()
		if err != nil {
			metrics.ReverseReportEventsTotal.WithLabelValues(topic, "error").Inc()
			return err
		}
		msg := &sarama.ProducerMessage{
			Topic: topic,
			Value: sarama.ByteEncoder(body),
		}
		if _, _, err := producer.SendMessage(msg); err != nil {
			metrics.ReverseReportEventsTotal.WithLabelValues(topic, "error").Inc()
			return fmt.Errorf("publish to %s: %w", topic, err)
		}
		metrics.ReverseReportEventsTotal.WithLabelValues(topic, "ok").Inc()
	}
	return nil
}
