package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"educhain/internal/ledger"
	"educhain/internal/ledger/mocks"
	"educhain/pkg/platform/circuit"
)

type ServiceSuite struct {
	suite.Suite
	ctrl   *gomock.Controller
	client *mocks.MockClient
	cache  *mocks.MockCache
	ctx    context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.client = mocks.NewMockClient(s.ctrl)
	s.cache = mocks.NewMockCache(s.ctrl)
	s.ctx = context.Background()
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

var sub = ledger.Submission{DocumentID: "CERT-1", SubjectName: "Asha Rao", Subject: "B.Tech", ContentHash: "ab12"}

func (s *ServiceSuite) TestAnchor() {
	s.Run("unconfigured ledger yields a visible skip", func() {
		receipt, err := ledger.NewService().Anchor(s.ctx, sub)
		s.Require().NoError(err)
		s.True(receipt.Skipped())
		s.Equal(ledger.SkippedTxRef, receipt.TxRef)
		s.Equal(ledger.ReasonUnconfigured, receipt.Reason)
	})

	s.Run("mandatory mode refuses to skip", func() {
		_, err := ledger.NewService(ledger.WithMandatory(true)).Anchor(s.ctx, sub)
		s.ErrorIs(err, ledger.ErrAnchorRequired)
	})

	s.Run("successful submission returns the tx ref", func() {
		s.client.EXPECT().Submit(gomock.Any(), sub).Return("0xabc", nil)
		receipt, err := ledger.NewService(ledger.WithClient(s.client)).Anchor(s.ctx, sub)
		s.Require().NoError(err)
		s.Equal(ledger.Receipt{TxRef: "0xabc", Status: ledger.StatusAnchored}, receipt)
	})

	s.Run("unreachable ledger degrades", func() {
		s.client.EXPECT().Submit(gomock.Any(), sub).Return("", fmt.Errorf("%w: refused", ledger.ErrUnreachable))
		receipt, err := ledger.NewService(ledger.WithClient(s.client)).Anchor(s.ctx, sub)
		s.Require().NoError(err)
		s.Equal(ledger.ReasonUnreachable, receipt.Reason)
		s.Equal(ledger.SkippedTxRef, receipt.TxRef)
	})

	s.Run("unreachable ledger in mandatory mode fails", func() {
		s.client.EXPECT().Submit(gomock.Any(), sub).Return("", ledger.ErrUnreachable)
		svc := ledger.NewService(ledger.WithClient(s.client), ledger.WithMandatory(true))
		_, err := svc.Anchor(s.ctx, sub)
		s.ErrorIs(err, ledger.ErrAnchorRequired)
		s.ErrorIs(err, ledger.ErrUnreachable)
	})

	s.Run("timeout degrades with timeout reason", func() {
		s.client.EXPECT().Submit(gomock.Any(), sub).DoAndReturn(func(ctx context.Context, _ ledger.Submission) (string, error) {
			<-ctx.Done()
			return "", fmt.Errorf("%w: %w", ledger.ErrUnreachable, ctx.Err())
		})
		svc := ledger.NewService(ledger.WithClient(s.client), ledger.WithTimeout(20*time.Millisecond))
		receipt, err := svc.Anchor(s.ctx, sub)
		s.Require().NoError(err)
		s.Equal(ledger.ReasonTimeout, receipt.Reason)
	})

	s.Run("signer failure degrades with signer reason", func() {
		s.client.EXPECT().Submit(gomock.Any(), sub).
			Return("", fmt.Errorf("%w: insufficient funds for gas * price + value", ledger.ErrSignerUnavailable))
		receipt, err := ledger.NewService(ledger.WithClient(s.client)).Anchor(s.ctx, sub)
		s.Require().NoError(err)
		s.True(receipt.Skipped())
		s.Equal(ledger.ReasonSigner, receipt.Reason)
	})

	s.Run("signer failure in mandatory mode fails", func() {
		s.client.EXPECT().Submit(gomock.Any(), sub).Return("", ledger.ErrSignerUnavailable)
		svc := ledger.NewService(ledger.WithClient(s.client), ledger.WithMandatory(true))
		_, err := svc.Anchor(s.ctx, sub)
		s.ErrorIs(err, ledger.ErrAnchorRequired)
		s.ErrorIs(err, ledger.ErrSignerUnavailable)
	})

	s.Run("rejection is a hard error", func() {
		s.client.EXPECT().Submit(gomock.Any(), sub).Return("", fmt.Errorf("%w: exists", ledger.ErrRejected))
		_, err := ledger.NewService(ledger.WithClient(s.client)).Anchor(s.ctx, sub)
		s.ErrorIs(err, ledger.ErrRejected)
	})

	s.Run("caller cancellation is returned, not degraded", func() {
		ctx, cancel := context.WithCancel(s.ctx)
		s.client.EXPECT().Submit(gomock.Any(), sub).DoAndReturn(func(context.Context, ledger.Submission) (string, error) {
			cancel()
			return "", ledger.ErrUnreachable
		})
		_, err := ledger.NewService(ledger.WithClient(s.client)).Anchor(ctx, sub)
		s.ErrorIs(err, context.Canceled)
	})

	s.Run("open circuit skips without calling the ledger", func() {
		breaker := circuit.New("ledger", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))
		svc := ledger.NewService(ledger.WithClient(s.client), ledger.WithBreaker(breaker))
		s.client.EXPECT().Submit(gomock.Any(), sub).Return("", ledger.ErrUnreachable).Times(2)

		for i := 0; i < 2; i++ {
			_, err := svc.Anchor(s.ctx, sub)
			s.Require().NoError(err)
		}
		receipt, err := svc.Anchor(s.ctx, sub)
		s.Require().NoError(err)
		s.Equal(ledger.ReasonCircuitOpen, receipt.Reason)
	})
}

func (s *ServiceSuite) TestResolve() {
	fact := ledger.Fact{DocumentID: "CERT-1", ContentHash: "ab12", AnchoredBy: "0x1"}

	s.Run("cache hit skips the ledger", func() {
		s.cache.EXPECT().Get(gomock.Any(), "CERT-1").Return(fact, true, nil)
		svc := ledger.NewService(ledger.WithClient(s.client), ledger.WithCache(s.cache))
		got, err := svc.Resolve(s.ctx, "CERT-1")
		s.Require().NoError(err)
		s.Equal(fact, got)
	})

	s.Run("cache miss reads through and fills the cache", func() {
		s.cache.EXPECT().Get(gomock.Any(), "CERT-1").Return(ledger.Fact{}, false, nil)
		s.client.EXPECT().Lookup(gomock.Any(), "CERT-1").Return(fact, nil)
		s.cache.EXPECT().Set(gomock.Any(), fact).Return(nil)
		svc := ledger.NewService(ledger.WithClient(s.client), ledger.WithCache(s.cache))
		got, err := svc.Resolve(s.ctx, "CERT-1")
		s.Require().NoError(err)
		s.Equal(fact, got)
	})

	s.Run("cache failure falls back to the ledger", func() {
		s.cache.EXPECT().Get(gomock.Any(), "CERT-1").Return(ledger.Fact{}, false, errors.New("redis down"))
		s.client.EXPECT().Lookup(gomock.Any(), "CERT-1").Return(fact, nil)
		s.cache.EXPECT().Set(gomock.Any(), fact).Return(errors.New("redis down"))
		svc := ledger.NewService(ledger.WithClient(s.client), ledger.WithCache(s.cache))
		got, err := svc.Resolve(s.ctx, "CERT-1")
		s.Require().NoError(err)
		s.Equal(fact, got)
	})

	s.Run("absent fact is NotAnchored", func() {
		s.client.EXPECT().Lookup(gomock.Any(), "CERT-9").Return(ledger.Fact{}, ledger.ErrNotAnchored)
		_, err := ledger.NewService(ledger.WithClient(s.client)).Resolve(s.ctx, "CERT-9")
		s.ErrorIs(err, ledger.ErrNotAnchored)
		s.NotErrorIs(err, ledger.ErrLookupFailed)
	})

	s.Run("read failure is AnchorLookupFailed", func() {
		s.client.EXPECT().Lookup(gomock.Any(), "CERT-1").Return(ledger.Fact{}, errors.New("connection reset"))
		_, err := ledger.NewService(ledger.WithClient(s.client)).Resolve(s.ctx, "CERT-1")
		s.ErrorIs(err, ledger.ErrLookupFailed)
	})

	s.Run("unconfigured ledger cannot resolve", func() {
		_, err := ledger.NewService().Resolve(s.ctx, "CERT-1")
		s.ErrorIs(err, ledger.ErrLookupFailed)
	})
}

type slowClient struct {
	*ledger.MemoryClient
	lookups atomic.Int32
	release chan struct{}
}

func (c *slowClient) Lookup(ctx context.Context, id string) (ledger.Fact, error) {
	c.lookups.Add(1)
	<-c.release
	return c.MemoryClient.Lookup(ctx, id)
}

func TestResolve_CoalescesConcurrentLookups(t *testing.T) {
	mem := ledger.NewMemoryClient()
	_, err := mem.Submit(context.Background(), sub)
	if err != nil {
		t.Fatal(err)
	}
	client := &slowClient{MemoryClient: mem, release: make(chan struct{})}
	svc := ledger.NewService(ledger.WithClient(client))

	const callers = 8
	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if fact, err := svc.Resolve(context.Background(), "CERT-1"); err != nil || fact.ContentHash != "ab12" {
				failures.Add(1)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(client.release)
	wg.Wait()

	if failures.Load() != 0 {
		t.Fatalf("%d resolves failed", failures.Load())
	}
	if n := client.lookups.Load(); n < 1 || n > callers {
		t.Fatalf("unexpected lookup count %d", n)
	}
}
