package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"titledeed/internal/deed/metrics"
	"titledeed/internal/deed/models"
	"titledeed/internal/deed/store"
	id "titledeed/pkg/domain"
)

// fakeProducer records produced records and can fail a number of calls.
type fakeProducer struct {
	mu       sync.Mutex
	records  []*kgo.Record
	failNext int
	calls    int
}

func (p *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	results := make(kgo.ProduceResults, 0, len(rs))
	if p.failNext > 0 {
		p.failNext--
		for _, r := range rs {
			results = append(results, kgo.ProduceResult{Record: r, Err: kerr.NotLeaderForPartition})
		}
		return results
	}
	for _, r := range rs {
		p.records = append(p.records, r)
		results = append(results, kgo.ProduceResult{Record: r})
	}
	return results
}

func (p *fakeProducer) produced() []*kgo.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*kgo.Record(nil), p.records...)
}

type RelaySuite struct {
	suite.Suite
	store    *store.InMemoryStore
	producer *fakeProducer
	metrics  *metrics.Metrics
	ctx      context.Context
}

func TestRelaySuite(t *testing.T) {
	suite.Run(t, new(RelaySuite))
}

func (s *RelaySuite) SetupTest() {
	s.store = store.NewInMemory()
	s.producer = &fakeProducer{}
	s.metrics = metrics.NewWithRegistry(prometheus.NewRegistry())
	s.ctx = context.Background()
}

// commit seeds n committed issuances, each leaving one outbox entry.
func (s *RelaySuite) commit(n int) {
	for i := 1; i <= n; i++ {
		app := models.Application{
			ApplicationID: id.ApplicationID(i),
			UserID:        int64(100 + i),
			FullName:      "Owner",
			LandCode:      fmt.Sprintf("LC-%d", i),
			LandType:      "residential",
		}
		s.store.AddApplication(app)
		iss, err := models.NewIssuance(
			models.DeedRequest{Application: app, DeedNumber: id.DeedNumber(fmt.Sprintf("%032x", i))},
			models.LedgerReceipt{
				TransactionHash: id.TxHash(fmt.Sprintf("0x%064x", i)),
				BlockNumber:     uint64(i),
				Status:          models.ReceiptStatusSuccessful,
			},
			time.Now(),
		)
		s.Require().NoError(err)
		s.Require().NoError(s.store.CommitIssuance(s.ctx, iss))
	}
}

func (s *RelaySuite) relay(opts ...Option) *Relay {
	opts = append([]Option{WithMetrics(s.metrics)}, opts...)
	r, err := New(s.store, s.producer, "titledeed.events", opts...)
	s.Require().NoError(err)
	return r
}

func (s *RelaySuite) TestFlushPublishesEveryEntryOnce() {
	s.commit(5)
	r := s.relay(WithBatchSize(2))

	n, err := r.Flush(s.ctx)
	s.Require().NoError(err)
	s.Equal(5, n)

	records := s.producer.produced()
	s.Require().Len(records, 5)
	first := records[0]
	s.Equal("titledeed.events", first.Topic)
	s.Equal(fmt.Sprintf("%032x", 1), string(first.Key))
	s.Equal(models.EventDeedIssued, headerValue(first, headerEventType))
	s.NotEmpty(headerValue(first, headerEventID))

	var event models.DeedIssuedEvent
	s.Require().NoError(json.Unmarshal(first.Value, &event))
	s.Equal(int64(1), event.ApplicationID)
	s.Equal(fmt.Sprintf("0x%064x", 1), event.TransactionHash)

	_, _, pending := s.store.Counts()
	s.Zero(pending)
	s.InDelta(5, testutil.ToFloat64(s.metrics.OutboxPublished), 0.001)

	n, err = r.Flush(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)
	s.Len(s.producer.produced(), 5)
}

func (s *RelaySuite) TestFailedProduceKeepsEntries() {
	s.commit(2)
	s.producer.failNext = 1
	r := s.relay()

	_, err := r.Flush(s.ctx)
	s.Require().Error(err)
	s.True(errors.Is(err, kerr.NotLeaderForPartition))
	_, _, pending := s.store.Counts()
	s.Equal(2, pending)

	n, err := r.Flush(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, n)
	_, _, pending = s.store.Counts()
	s.Zero(pending)
}

func (s *RelaySuite) TestRunStopsOnCancel() {
	s.commit(3)
	s.producer.failNext = 1
	r := s.relay(WithPollInterval(5 * time.Millisecond))

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	s.Eventually(func() bool { return len(s.producer.produced()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(time.Second):
		s.Fail("relay did not stop")
	}
	s.InDelta(1, testutil.ToFloat64(s.metrics.OutboxPublishErrors), 0.001)
}

func (s *RelaySuite) TestNewValidates() {
	_, err := New(nil, s.producer, "t")
	s.Error(err)
	_, err = New(s.store, nil, "t")
	s.Error(err)
	_, err = New(s.store, s.producer, "")
	s.Error(err)
}

type fakeAdmin struct {
	resp kadm.CreateTopicResponse
	err  error
}

func (a fakeAdmin) CreateTopic(_ context.Context, _ int32, _ int16, _ map[string]*string, topic string) (kadm.CreateTopicResponse, error) {
	a.resp.Topic = topic
	return a.resp, a.err
}

func (s *RelaySuite) TestEnsureTopic() {
	s.NoError(EnsureTopic(s.ctx, fakeAdmin{}, "titledeed.events", 3, 1))
	s.NoError(EnsureTopic(s.ctx, fakeAdmin{resp: kadm.CreateTopicResponse{Err: kerr.TopicAlreadyExists}}, "titledeed.events", 3, 1))
	s.Error(EnsureTopic(s.ctx, fakeAdmin{resp: kadm.CreateTopicResponse{Err: kerr.InvalidReplicationFactor}}, "titledeed.events", 3, 9))
	s.Error(EnsureTopic(s.ctx, fakeAdmin{err: errors.New("no brokers")}, "titledeed.events", 3, 1))
}

func headerValue(r *kgo.Record, key string) string {
	for _, h := range r.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
