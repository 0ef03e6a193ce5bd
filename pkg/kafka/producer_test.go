package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"frameworks/pkg/logging"
)

type fakeClient struct {
	records []*kgo.Record
	err     error
	closed  bool
}

func (f *fakeClient) ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	var out kgo.ProduceResults
	for _, r := range rs {
		f.records = append(f.records, r)
		out = append(out, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return out
}

func (f *fakeClient) Ping(ctx context.Context) error { return f.err }
func (f *fakeClient) Close()                         { f.closed = true }

func TestPublishEvent_KeysByTenant(t *testing.T) {
	fc := &fakeClient{}
	p := newProducer(fc, logging.NewTestLogger())

	evt := Event{ID: "evt-1", Type: "message.charged", Source: "bosun", TenantID: "org-1", Timestamp: time.Now(), Data: map[string]interface{}{"fee": "0.20"}}
	if err := p.PublishEvent(context.Background(), "billing_events", evt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fc.records) != 1 {
		t.Fatalf("expected one record, got %d", len(fc.records))
	}
	rec := fc.records[0]
	if rec.Topic != "billing_events" || string(rec.Key) != "org-1" {
		t.Fatalf("unexpected record topic=%s key=%s", rec.Topic, rec.Key)
	}

	headers := map[string]string{}
	for _, h := range rec.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["event_type"] != "message.charged" || headers["tenant_id"] != "org-1" || headers["source"] != "bosun" {
		t.Fatalf("unexpected headers %v", headers)
	}

	var decoded Event
	if err := json.Unmarshal(rec.Value, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Data["fee"] != "0.20" {
		t.Fatalf("unexpected payload %s", rec.Value)
	}
}

func TestPublishEvent_WithoutTenantKeysByID(t *testing.T) {
	fc := &fakeClient{}
	p := newProducer(fc, logging.NewTestLogger())
	if err := p.PublishEvent(context.Background(), "t", Event{ID: "evt-9", Type: "x"}); err != nil {
		t.Fatal(err)
	}
	if string(fc.records[0].Key) != "evt-9" {
		t.Fatalf("expected event id key, got %s", fc.records[0].Key)
	}
}

func TestProduceMessage_PropagatesBrokerError(t *testing.T) {
	fc := &fakeClient{err: errors.New("not leader")}
	p := newProducer(fc, logging.NewTestLogger())
	if err := p.ProduceMessage(context.Background(), "t", nil, []byte("v"), nil); err == nil {
		t.Fatal("expected error")
	}
	if err := p.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health check error")
	}
	_ = p.Close()
	if !fc.closed {
		t.Fatal("expected client to be closed")
	}
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	if _, err := NewProducer(nil, "bosun", logging.NewTestLogger()); err == nil {
		t.Fatal("expected error without brokers")
	}
}
