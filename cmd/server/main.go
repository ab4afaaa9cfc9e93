package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/go-chi/chi/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"titledeed/internal/deed/handler"
	"titledeed/internal/deed/identifier"
	"titledeed/internal/deed/ledger"
	deedmetrics "titledeed/internal/deed/metrics"
	"titledeed/internal/deed/outbox"
	"titledeed/internal/deed/service"
	"titledeed/internal/deed/store"
	jwttoken "titledeed/internal/jwt_token"
	"titledeed/internal/platform/config"
	"titledeed/internal/platform/httpserver"
	"titledeed/internal/platform/logger"
	"titledeed/internal/platform/metrics"
	"titledeed/internal/platform/redis"
	"titledeed/pkg/platform/httputil"
)

const shutdownTimeout = 30 * time.Second

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	records := store.NewPostgres(db)

	deedMetrics := deedmetrics.New()
	ledgerClient, signer, err := newLedgerClient(ctx, cfg.Ledger, log, deedMetrics)
	if err != nil {
		return err
	}
	log.Info("ledger client ready",
		"chain_id", cfg.Ledger.ChainID,
		"contract", cfg.Ledger.ContractName,
		"signer", signer.String(),
	)

	workflow, err := service.NewWorkflow(records, ledgerClient, identifier.New(), signer,
		service.WithWorkflowLogger(log),
		service.WithWorkflowMetrics(deedMetrics),
		service.WithWorkflowConfig(service.WorkflowConfig{
			ConfirmationTimeout: cfg.Ledger.ConfirmationTimeout,
			CommitTimeout:       cfg.Ledger.CommitTimeout,
			DropWindow:          cfg.Ledger.DropWindow,
		}),
	)
	if err != nil {
		return err
	}

	svcOpts := []service.Option{service.WithLogger(log), service.WithMetrics(deedMetrics)}
	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rc != nil {
		defer rc.Close()
		svcOpts = append(svcOpts, service.WithLease(store.NewRedisLease(rc.Client), cfg.Redis.LeaseTTL))
		log.Info("issuance lease enabled")
	}
	svc, err := service.New(workflow, svcOpts...)
	if err != nil {
		return err
	}

	jwtService := jwttoken.NewJWTService(cfg.JWT.SigningKey, cfg.JWT.Issuer, cfg.JWT.Audience)
	router := newRouter(log, db, handler.New(svc, jwttoken.NewJWTServiceAdapter(jwtService),
		handler.WithLogger(log),
		handler.WithMetrics(metrics.New()),
		handler.WithIssueTimeout(cfg.IssueTimeout),
	))
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting titledeed server", "addr", cfg.Addr)
		// in-flight issuances finish their confirmation wait before exit
		return httpserver.Serve(gctx, srv, cfg.Ledger.ConfirmationTimeout+shutdownTimeout)
	})

	if len(cfg.Kafka.Brokers) > 0 {
		relay, closeRelay, err := newRelay(gctx, cfg.Kafka, records, log, deedMetrics)
		if err != nil {
			return err
		}
		defer closeRelay()
		g.Go(func() error { return relay.Run(gctx) })
	} else {
		log.Info("outbox relay disabled: no kafka brokers configured")
	}

	return g.Wait()
}

func openDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		// the DSN carries credentials; report only the failure
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func newLedgerClient(ctx context.Context, cfg config.LedgerConfig, log *slog.Logger, m *deedmetrics.Metrics) (*ledger.Client, *ledger.Signer, error) {
	contract, err := ledger.LoadContract(cfg.ContractDir, cfg.ContractName)
	if err != nil {
		return nil, nil, err
	}
	fees := ledger.DefaultFeePolicy()
	if cfg.FeePolicyFile != "" {
		if fees, err = ledger.LoadFeePolicy(cfg.FeePolicyFile); err != nil {
			return nil, nil, err
		}
	}
	signer, err := ledger.KeySource{
		EncryptedKeyFile: cfg.KeyFile,
		IdentityFile:     cfg.IdentityFile,
		HexKey:           cfg.HexKey,
	}.Load()
	if err != nil {
		return nil, nil, err
	}

	backend, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial ledger rpc: %w", err)
	}
	client, err := ledger.New(backend, contract, big.NewInt(cfg.ChainID),
		ledger.WithLogger(log),
		ledger.WithMetrics(m),
		ledger.WithFeePolicy(fees),
		ledger.WithConfirmations(cfg.Confirmations),
		ledger.WithPollInterval(cfg.PollInterval),
		ledger.WithConfirmationTimeout(cfg.ConfirmationTimeout),
		ledger.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
	)
	if err != nil {
		return nil, nil, err
	}
	return client, signer, nil
}

func newRelay(ctx context.Context, cfg config.KafkaConfig, source outbox.Source, log *slog.Logger, m *deedmetrics.Metrics) (*outbox.Relay, func(), error) {
	kc, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka client: %w", err)
	}
	if err := outbox.EnsureTopic(ctx, kadm.NewClient(kc), cfg.Topic, cfg.Partitions, cfg.Replication); err != nil {
		kc.Close()
		return nil, nil, err
	}
	relay, err := outbox.New(source, kc, cfg.Topic,
		outbox.WithLogger(log),
		outbox.WithMetrics(m),
		outbox.WithPollInterval(cfg.PollInterval),
		outbox.WithBatchSize(cfg.BatchSize),
	)
	if err != nil {
		kc.Close()
		return nil, nil, err
	}
	log.Info("outbox relay enabled", "topic", cfg.Topic, "brokers", len(cfg.Brokers))
	return relay, kc.Close, nil
}

type pinger interface {
	PingContext(ctx context.Context) error
}

func newRouter(log *slog.Logger, db pinger, deeds *handler.Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			log.WarnContext(ctx, "health check failed", "error", err)
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	deeds.Register(r)
	return r
}
