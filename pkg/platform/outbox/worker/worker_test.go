package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"educhain/internal/platform/kafka/producer"
	"educhain/pkg/platform/outbox"
	"educhain/pkg/platform/outbox/metrics"
	"educhain/pkg/platform/outbox/store/memory"
)

type recordingPublisher struct {
	mu       sync.Mutex
	messages []*producer.Message
	fail     map[string]bool
}

func (p *recordingPublisher) Produce(_ context.Context, msg *producer.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[string(msg.Key)] {
		return errors.New("broker down")
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

type WorkerSuite struct {
	suite.Suite
	store     *memory.Store
	publisher *recordingPublisher
	metrics   *metrics.Metrics
	worker    *Worker
}

func TestWorkerSuite(t *testing.T) {
	suite.Run(t, new(WorkerSuite))
}

func (s *WorkerSuite) SetupTest() {
	s.store = memory.New()
	s.publisher = &recordingPublisher{fail: map[string]bool{}}
	s.metrics = metrics.NewWith(prometheus.NewRegistry())
	s.worker = New(s.store, s.publisher,
		WithTopic("documents-test"),
		WithBatchSize(10),
		WithMetrics(s.metrics),
	)
}

func (s *WorkerSuite) append(aggregateID, eventType string) *outbox.Entry {
	e := outbox.NewEntry("document", aggregateID, eventType, []byte(`{}`), time.Now())
	s.Require().NoError(s.store.Append(context.Background(), e))
	return e
}

func (s *WorkerSuite) TestPollPublishesAndMarks() {
	ctx := context.Background()
	s.append("CERT-1", "document.issued")
	s.append("CERT-1", "document.claimed")

	s.Equal(2, s.worker.Poll(ctx))
	s.Require().Equal(2, s.publisher.count())
	msg := s.publisher.messages[0]
	s.Equal("documents-test", msg.Topic)
	s.Equal("CERT-1", string(msg.Key))
	s.Equal("document.issued", msg.Headers["event_type"])

	pending, err := s.store.CountPending(ctx)
	s.Require().NoError(err)
	s.Zero(pending)
	s.Equal(2.0, testutil.ToFloat64(s.metrics.PublishedTotal))

	s.Zero(s.worker.Poll(ctx), "nothing left to publish")
}

func (s *WorkerSuite) TestFailedEntryStaysPending() {
	ctx := context.Background()
	s.append("CERT-bad", "document.issued")
	s.append("CERT-good", "document.issued")
	s.publisher.fail["CERT-bad"] = true

	s.Equal(1, s.worker.Poll(ctx))
	s.Require().NoError(s.worker.UpdateMetrics(ctx))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.PendingDepth))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.PublishFailures))

	delete(s.publisher.fail, "CERT-bad")
	s.Equal(1, s.worker.Poll(ctx))
}

func (s *WorkerSuite) TestStopDrainsPending() {
	w := New(s.store, s.publisher, WithPollInterval(time.Hour))
	w.Start()
	s.append("CERT-1", "document.issued")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Require().NoError(w.Stop(ctx))
	s.Equal(1, s.publisher.count())
}

func (s *WorkerSuite) TestRetentionPrunesProcessed() {
	ctx := context.Background()
	w := New(s.store, s.publisher, WithRetention(time.Nanosecond))
	s.append("CERT-1", "document.issued")
	s.Equal(1, w.Poll(ctx))
	s.Empty(s.store.Entries())
}
