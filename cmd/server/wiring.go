package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"educhain/internal/blobstore"
	"educhain/internal/documents/claim"
	"educhain/internal/documents/events"
	"educhain/internal/documents/handler"
	"educhain/internal/documents/issuance"
	docmetrics "educhain/internal/documents/metrics"
	"educhain/internal/documents/store"
	"educhain/internal/documents/verification"
	"educhain/internal/identity"
	"educhain/internal/ledger"
	"educhain/internal/ledger/ethereum"
	"educhain/internal/platform/config"
	"educhain/internal/platform/database"
	"educhain/internal/platform/health"
	"educhain/internal/platform/kafka/producer"
	"educhain/internal/platform/metrics"
	"educhain/internal/platform/redis"
	"educhain/internal/seal"
	"educhain/pkg/platform/circuit"
	"educhain/pkg/platform/outbox"
	outboxmetrics "educhain/pkg/platform/outbox/metrics"
	outboxmemory "educhain/pkg/platform/outbox/store/memory"
	outboxpostgres "educhain/pkg/platform/outbox/store/postgres"
	"educhain/pkg/platform/outbox/worker"
	"educhain/pkg/platform/tracer"
	"educhain/pkg/platform/tx"
)

const statsInterval = 15 * time.Second

// documentStore is the union of the ports the document services consume.
type documentStore interface {
	issuance.Store
	claim.Store
	verification.Store
}

type app struct {
	log         *slog.Logger
	documents   *handler.Handler
	health      *health.Handler
	httpMetrics *metrics.Metrics

	db       *database.Pool
	redis    *redis.Client
	ethereum *ethereum.Client
	producer *producer.Producer
	worker   *worker.Worker
	outbox   outbox.Store
}

// build assembles the engine from configuration. Unset backends fall back to
// in-process implementations outside production.
func build(ctx context.Context, cfg config.Server, log *slog.Logger) (*app, error) {
	a := &app{
		log:         log,
		health:      health.New(cfg.Environment),
		httpMetrics: metrics.New(),
	}
	ready := false
	defer func() {
		if !ready {
			a.close()
		}
	}()

	docs, runner, err := a.openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	blobs, err := a.openBlobStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	ledgerSvc, err := a.openLedger(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sealer, err := newSealer(cfg.Seal)
	if err != nil {
		return nil, err
	}

	hasher, err := identity.NewHasher([]byte(cfg.Identity.Pepper))
	if err != nil {
		return nil, err
	}

	if err := a.openProducer(cfg); err != nil {
		return nil, err
	}

	tr := tracer.NewOTel("educhain")
	docMetrics := docmetrics.New()
	recorder := events.NewRecorder(a.outbox)

	issuer := issuance.New(docs, hasher, sealer, blobs, ledgerSvc,
		issuance.WithVerifyBaseURL(cfg.Issuance.VerifyBaseURL),
		issuance.WithStoreTimeout(cfg.Issuance.StoreTimeout),
		issuance.WithEvents(recorder),
		issuance.WithTxRunner(runner),
		issuance.WithMetrics(docMetrics),
		issuance.WithTracer(tr),
		issuance.WithLogger(log),
	)
	claimer := claim.New(docs, hasher,
		claim.WithEvents(recorder),
		claim.WithTxRunner(runner),
		claim.WithMetrics(docMetrics),
		claim.WithTracer(tr),
		claim.WithLogger(log),
	)
	verifier := verification.New(docs, ledgerSvc, blobs,
		verification.WithMetrics(docMetrics),
		verification.WithTracer(tr),
		verification.WithLogger(log),
	)

	a.documents = handler.New(issuer, claimer, verifier, log, cfg.Issuance.MaxUploadBytes)
	a.documents.SetDownloadTTL(cfg.Storage.SignedURLTTL)
	ready = true
	return a, nil
}

// openStores picks Postgres when a database URL is set and memory otherwise.
func (a *app) openStores(ctx context.Context, cfg config.Server) (documentStore, tx.Runner, error) {
	pool, err := database.New(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if pool == nil {
		a.log.Warn("no database configured, documents are kept in memory")
		a.outbox = outboxmemory.New()
		return store.NewInMemory(), tx.NoopRunner{}, nil
	}
	a.db = pool
	if err := pool.Migrate(ctx); err != nil {
		return nil, nil, err
	}
	a.health.RegisterCheck("database", pool.Health)
	a.outbox = outboxpostgres.New(pool.DB())
	return store.NewPostgres(pool.DB()), tx.NewSQLRunner(pool.DB()), nil
}

func (a *app) openBlobStore(ctx context.Context, cfg config.Server) (issuanceBlobs, error) {
	if cfg.Storage.Bucket == "" {
		a.log.Warn("no storage bucket configured, sealed documents are kept in memory and download links do not expire")
		return blobstore.NewMemoryStore("http://localhost/blobs"), nil
	}
	return blobstore.NewS3Store(ctx, blobstore.S3Config{
		Bucket:          cfg.Storage.Bucket,
		Region:          cfg.Storage.Region,
		Endpoint:        cfg.Storage.Endpoint,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		PublicBaseURL:   cfg.Storage.PublicBaseURL,
		UsePathStyle:    cfg.Storage.UsePathStyle,
		Timeout:         cfg.Storage.Timeout,
	})
}

// issuanceBlobs is what both issuance and verification need from storage.
type issuanceBlobs interface {
	issuance.BlobStore
	verification.BlobStore
}

func (a *app) openLedger(ctx context.Context, cfg config.Server) (*ledger.Service, error) {
	opts := []ledger.Option{
		ledger.WithBreaker(circuit.New("ledger",
			circuit.WithFailureThreshold(3),
			circuit.WithSuccessThreshold(1),
			circuit.WithCooldown(30*time.Second),
		)),
		ledger.WithTimeout(cfg.Ledger.Timeout),
		ledger.WithMandatory(cfg.Ledger.Mandatory),
		ledger.WithMetrics(ledger.NewMetrics()),
		ledger.WithTracer(tracer.NewOTel("educhain/ledger")),
		ledger.WithLogger(a.log),
	}

	switch {
	case cfg.Ledger.RPCURL != "":
		client, err := ethereum.Dial(ctx, ethereum.Config{
			RPCURL:          cfg.Ledger.RPCURL,
			ContractAddress: cfg.Ledger.ContractAddress,
			PrivateKey:      cfg.Ledger.PrivateKey,
			ChainID:         cfg.Ledger.ChainID,
			WaitMined:       cfg.Ledger.WaitMined,
		})
		if err != nil {
			return nil, fmt.Errorf("dial ledger: %w", err)
		}
		a.ethereum = client
		a.log.Info("ledger configured", "signer", client.Signer())
		opts = append(opts, ledger.WithClient(client))
	case cfg.Ledger.Memory:
		a.log.Warn("using in-process ledger")
		opts = append(opts, ledger.WithClient(ledger.NewMemoryClient()))
	default:
		a.log.Warn("no ledger configured, documents are issued unanchored")
	}

	cache, err := a.openCache(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	opts = append(opts, ledger.WithCache(cache))
	return ledger.NewService(opts...), nil
}

func (a *app) openCache(ctx context.Context, cfg config.RedisConfig) (ledger.Cache, error) {
	client, err := redis.New(ctx, cfg, redis.NewPoolMetrics(prometheus.DefaultRegisterer))
	if err != nil {
		return nil, err
	}
	if client == nil {
		return ledger.NewMemoryCache(cfg.ResolveCacheTTL), nil
	}
	a.redis = client
	a.health.RegisterCheck("redis", client.Health)
	return ledger.NewRedisCache(client.Client, cfg.ResolveCacheTTL), nil
}

func newSealer(cfg config.SealConfig) (*seal.Generator, error) {
	opts := []seal.Option{seal.WithCaption(cfg.Caption)}
	if cfg.LogoPath != "" {
		logo, err := os.ReadFile(cfg.LogoPath)
		if err != nil {
			return nil, fmt.Errorf("read seal logo: %w", err)
		}
		opts = append(opts, seal.WithLogo(logo))
	}
	return seal.NewGenerator(seal.NewPDFRenderer(), opts...), nil
}

// openProducer starts the outbox relay when brokers are configured. Without
// brokers, events stay pending in the outbox.
func (a *app) openProducer(cfg config.Server) error {
	if cfg.Kafka.Brokers == "" {
		a.log.Warn("no kafka brokers configured, outbox events stay pending")
		return nil
	}
	p, err := producer.New(producer.Config{
		Brokers:         cfg.Kafka.Brokers,
		Acks:            cfg.Kafka.Acks,
		Retries:         10,
		DeliveryTimeout: 30 * time.Second,
	}, a.log)
	if err != nil {
		return fmt.Errorf("create kafka producer: %w", err)
	}
	a.producer = p
	a.health.RegisterSoftCheck("kafka", func(ctx context.Context) error {
		if !p.Healthy(ctx) {
			return errors.New("kafka unreachable")
		}
		return nil
	})

	a.worker = worker.New(a.outbox, p,
		worker.WithTopic(cfg.Kafka.Topic),
		worker.WithBatchSize(cfg.Outbox.BatchSize),
		worker.WithPollInterval(cfg.Outbox.PollInterval),
		worker.WithRetention(cfg.Outbox.Retention),
		worker.WithMetrics(outboxmetrics.New()),
		worker.WithLogger(a.log),
	)
	a.worker.Start()
	return nil
}

// runBackground publishes pool and outbox gauges until ctx ends.
func (a *app) runBackground(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.redis != nil {
				a.redis.RecordPoolStats()
			}
			if a.worker != nil {
				if err := a.worker.UpdateMetrics(ctx); err != nil {
					a.log.Warn("outbox metrics update failed", "error", err)
				}
			}
		}
	}
}

func (a *app) stopWorker(ctx context.Context) error {
	if a.worker == nil {
		return nil
	}
	return a.worker.Stop(ctx)
}

func (a *app) close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.log.Warn("kafka producer close failed", "error", err)
		}
	}
	if a.ethereum != nil {
		a.ethereum.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("redis close failed", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("database close failed", "error", err)
		}
	}
}
