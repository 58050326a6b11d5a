package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/traceql/internal/model"
)

// startTestNATS starts an embedded NATS server and returns its client URL.
func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func sampleEvent(id, service string) *model.Event {
	return &model.Event{
		ID: id, TS: 1700000000000, Service: service, Level: model.LevelWarn, Message: "slow call",
		TraceID: model.StringPtr("t1"), Tags: map[string]string{"k": "v"},
	}
}

func TestSubject(t *testing.T) {
	for _, tc := range []struct{ service, want string }{
		{"api", "traceql.events.api"},
		{"payments.v2", "traceql.events.payments_v2"},
		{"a b*c>", "traceql.events.a_b_c_"},
		{"", "traceql.events._"},
	} {
		if got := Subject(&model.Event{Service: tc.service}); got != tc.want {
			t.Errorf("Subject(%q) = %q, want %q", tc.service, got, tc.want)
		}
	}
}

func TestNoopPublisher(t *testing.T) {
	var pub Publisher = &NoopPublisher{}
	if err := pub.Publish(context.Background(), sampleEvent("ev-1", "api")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNATSPublisher_ImplementsPublisher(t *testing.T) {
	var _ Publisher = (*NATSPublisher)(nil)
}

func TestNATSPublisher_Publish(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	// Subscribe to capture published messages.
	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connecting subscriber: %v", err)
	}
	defer nc.Close()

	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("traceql.events.worker", ch)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer sub.Unsubscribe() //nolint:errcheck
	nc.Flush()

	if err := pub.Publish(context.Background(), sampleEvent("ev-pub1", "worker")); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	pub.Flush()

	select {
	case msg := <-ch:
		var got model.Event
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.ID != "ev-pub1" || got.Tags["k"] != "v" {
			t.Errorf("got %+v", got)
		}
		if msg.Header.Get(HeaderEventID) != "ev-pub1" {
			t.Errorf("event id header = %q", msg.Header.Get(HeaderEventID))
		}
		if msg.Header.Get(HeaderTraceID) != "t1" {
			t.Errorf("trace id header = %q", msg.Header.Get(HeaderTraceID))
		}
		if msg.Header.Get(HeaderLevel) != "WARN" {
			t.Errorf("level header = %q", msg.Header.Get(HeaderLevel))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestNATSPublisher_CanceledContext(t *testing.T) {
	url := startTestNATS(t)
	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pub.Publish(ctx, sampleEvent("ev-1", "api")); err == nil {
		t.Fatal("expected error for canceled context")
	}
}

func TestNATSSubscriber_ReceivesAllServices(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	sub, err := NewNATSSubscriber(url)
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	defer sub.Close()

	ch, cancel, err := sub.Subscribe(SubjectAll)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	for _, e := range []*model.Event{sampleEvent("ev-a", "api"), sampleEvent("ev-b", "db")} {
		if err := pub.Publish(context.Background(), e); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	pub.Flush()

	got := map[string]bool{}
	for len(got) < 2 {
		select {
		case e := <-ch:
			got[e.ID] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, received %v", got)
		}
	}
}

func TestNATSSubscriber_FiltersByLevelHeader(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	sub, err := NewNATSSubscriber(url)
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	defer sub.Close()

	ch, cancel, err := sub.Subscribe(SubjectAll, model.LevelError)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	info := sampleEvent("ev-info", "api")
	info.Level = model.LevelInfo
	failed := sampleEvent("ev-err", "api")
	failed.Level = model.LevelError
	for _, e := range []*model.Event{info, failed} {
		if err := pub.Publish(context.Background(), e); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	pub.Flush()

	select {
	case e := <-ch:
		if e.ID != "ev-err" {
			t.Fatalf("expected only the ERROR event, got %s", e.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the ERROR event")
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected extra event %s", e.ID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNATSSubscriber_CancelClosesChannel(t *testing.T) {
	url := startTestNATS(t)

	sub, err := NewNATSSubscriber(url)
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	defer sub.Close()

	ch, cancel, err := sub.Subscribe(SubjectAll)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	cancel()
	cancel() // second call is a no-op

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestNATSSubscriber_SkipsUndecodable(t *testing.T) {
	url := startTestNATS(t)

	sub, err := NewNATSSubscriber(url)
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	defer sub.Close()

	ch, cancel, err := sub.Subscribe(SubjectAll)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()
	nc.Publish("traceql.events.api", []byte("not json")) //nolint:errcheck
	data, _ := json.Marshal(sampleEvent("ev-ok", "api"))
	nc.Publish("traceql.events.api", data) //nolint:errcheck
	nc.Flush()

	select {
	case e := <-ch:
		if e.ID != "ev-ok" {
			t.Errorf("got %q, want ev-ok", e.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for decodable event")
	}
}
