package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	disputehandler "escrowd/internal/dispute/handler"
	disputesvc "escrowd/internal/dispute/service"
	disputestore "escrowd/internal/dispute/store"
	escrowhandler "escrowd/internal/escrow/handler"
	escrowsvc "escrowd/internal/escrow/service"
	escrowstore "escrowd/internal/escrow/store"
	"escrowd/internal/events"
	eventstore "escrowd/internal/events/store"
	"escrowd/internal/governance"
	govhandler "escrowd/internal/governance/handler"
	"escrowd/internal/jwttoken"
	"escrowd/internal/ledger"
	"escrowd/internal/params"
	"escrowd/internal/platform/config"
	"escrowd/internal/platform/httpserver"
	"escrowd/internal/platform/logger"
	"escrowd/internal/platform/metrics"
	platformredis "escrowd/internal/platform/redis"
	httptransport "escrowd/internal/transport/http"
	"escrowd/internal/volume"
	volumestore "escrowd/internal/volume/store"
	"escrowd/pkg/domain"
)

// main wires the stores, services, and transport, then runs the server and
// background workers under one errgroup so any fatal failure stops the rest.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	paramStore := params.NewMemoryStore()
	assetLedger := ledger.NewMemory()
	jwtService := jwttoken.New(cfg.JWTSigningKey, "escrowd", "escrowd")

	checks := map[string]httptransport.HealthChecker{}

	// Persistence: Postgres when configured, in-process stores otherwise.
	var (
		escrows  escrowstore.Store
		disputes disputestore.Store
		eventLog events.Store
	)
	if cfg.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			log.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		checks["postgres"] = poolHealth{pool}

		es := escrowstore.NewPostgres(pool)
		ds := disputestore.NewPostgres(pool)
		db, err := eventstore.Open(cfg.PostgresURL)
		if err != nil {
			log.Error("failed to open outbox connection", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		outbox := eventstore.NewPostgres(db)
		for _, ensure := range []func(context.Context) error{
			es.EnsureSchema, ds.EnsureSchema, outbox.EnsureSchema,
		} {
			if err := ensure(ctx); err != nil {
				log.Error("failed to ensure schema", "error", err)
				os.Exit(1)
			}
		}
		escrows, disputes, eventLog = es, ds, outbox
	} else {
		escrows = escrowstore.NewMemory()
		disputes = disputestore.NewMemory()
		eventLog = eventstore.NewMemory()
	}

	// Daily volume caps: Redis when configured, per-process otherwise.
	var volStore volume.Store
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		checks["redis"] = redisClient
		volStore = volumestore.NewRedis(redisClient.Client)
	} else {
		volStore = volumestore.NewMemory()
	}

	group, ctx := errgroup.WithContext(ctx)

	// Optional Kafka feed: the request path writes the primary event log and
	// a worker mirrors events onto the broker.
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		if err != nil {
			log.Error("failed to connect to kafka", "error", err)
			os.Exit(1)
		}
		defer kafka.Close()

		inbox := make(chan events.Event, 256)
		eventLog = events.NewFanout(eventLog, inbox)
		worker := events.NewWorker(kafka, inbox, log)
		group.Go(func() error {
			if err := worker.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	publisher := events.NewPublisher(eventLog)

	volSvc, err := volume.New(volStore, volume.WithLogger(log))
	if err != nil {
		log.Error("failed to build volume limiter", "error", err)
		os.Exit(1)
	}

	govOpts := []governance.Option{governance.WithLogger(log)}
	if cfg.KYCRequired {
		govOpts = append(govOpts, governance.WithKYCRequired())
	}
	govSvc := governance.New(domain.PartyID(cfg.GovernanceParty), paramStore, assetLedger, govOpts...)

	escrowService, err := escrowsvc.New(escrows, assetLedger, paramStore, volSvc, govSvc,
		escrowsvc.WithLogger(log),
		escrowsvc.WithMetrics(m),
		escrowsvc.WithEventPublisher(publisher),
	)
	if err != nil {
		log.Error("failed to build escrow service", "error", err)
		os.Exit(1)
	}
	disputeService, err := disputesvc.New(disputes, escrowService, govSvc, paramStore,
		disputesvc.WithLogger(log),
		disputesvc.WithEventPublisher(publisher),
	)
	if err != nil {
		log.Error("failed to build dispute service", "error", err)
		os.Exit(1)
	}

	router := httptransport.NewRouter([]httptransport.Registrar{
		escrowhandler.New(escrowService, publisher, log, m, jwtService),
		disputehandler.New(disputeService, log, m, jwtService),
		govhandler.New(govSvc, paramStore, log, m, jwtService),
	}, checks)

	srv := httpserver.New(cfg.Addr, router)

	group.Go(func() error {
		log.Info("starting escrowd", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("escrowd stopped")
}

// poolHealth adapts a pgx pool to the router's readiness check.
type poolHealth struct {
	pool *pgxpool.Pool
}

func (p poolHealth) Health(ctx context.Context) error {
	return p.pool.Ping(ctx)
}
