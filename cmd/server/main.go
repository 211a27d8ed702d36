// Command server runs the candidate-record API: versioned people, two-phase
// merges, ballots, and the audit feed. Storage backends are selected by
// config: Postgres when a DSN is set, in-memory otherwise (dev mode).
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"rollcall/internal/audit"
	auditHandler "rollcall/internal/audit/handler"
	"rollcall/internal/audit/publisher"
	auditpg "rollcall/internal/audit/store/postgres"
	ballotsHandler "rollcall/internal/ballots/handler"
	ballotsService "rollcall/internal/ballots/service"
	ballotstore "rollcall/internal/ballots/store"
	httpapi "rollcall/internal/http"
	"rollcall/internal/jwtactor"
	mergeapi "rollcall/internal/merge"
	mergeHandler "rollcall/internal/merge/handler"
	peopleHandler "rollcall/internal/people/handler"
	peopleService "rollcall/internal/people/service"
	peoplestore "rollcall/internal/people/store"
	"rollcall/internal/platform/config"
	"rollcall/internal/platform/httpserver"
	"rollcall/internal/platform/logger"
	"rollcall/internal/platform/metrics"
	platformpg "rollcall/internal/platform/postgres"
	platformredis "rollcall/internal/platform/redis"
	"rollcall/internal/redirect"
	"rollcall/internal/storage"
	memorytx "rollcall/internal/storage/memory"
	postgrestx "rollcall/internal/storage/postgres"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		peopleStore    peopleService.Store
		mergePeople    mergeapi.PeopleStore
		ballotStore    ballotsService.Store
		candidacyStore *ballotstore.PostgresStore
		redirectStore  redirect.Store
		auditStore     audit.Store
		outboxSource   audit.OutboxSource
		runner         storage.TxRunner
	)

	if cfg.Postgres.DSN != "" {
		db, err := platformpg.Open(ctx, cfg.Postgres)
		if err != nil {
			log.Error("postgres connection failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := postgrestx.EnsureSchema(ctx, db); err != nil {
			log.Error("schema setup failed", "error", err)
			os.Exit(1)
		}

		pgPeople := peoplestore.NewPostgresStore(db)
		pgAudit := auditpg.New(db)
		peopleStore = pgPeople
		mergePeople = pgPeople
		candidacyStore = ballotstore.NewPostgresStore(db)
		ballotStore = candidacyStore
		redirectStore = redirect.NewPostgresStore(db)
		auditStore = pgAudit
		outboxSource = pgAudit
		runner = postgrestx.NewRunner(db)
		log.Info("using postgres storage")
	} else {
		memPeople := peoplestore.NewInMemoryStore()
		memBallots := ballotstore.NewInMemoryStore()
		memRedirects := redirect.NewInMemoryStore()
		memAudit := audit.NewInMemoryStore()
		peopleStore = memPeople
		mergePeople = memPeople
		ballotStore = memBallots
		redirectStore = memRedirects
		auditStore = memAudit
		runner = memorytx.NewRunner(memPeople, memBallots, memRedirects, memAudit)
		log.Warn("using in-memory storage; data will not survive a restart")

		memCandidacies := memBallots
		recorder := audit.NewRecorder(memAudit)
		run(ctx, cfg, log, m, deps{
			people:      peopleStore,
			mergePeople: mergePeople,
			candidacies: memCandidacies,
			ballots:     ballotStore,
			redirects:   redirectStore,
			lookup:      nil,
			recorder:    recorder,
			audits:      memAudit,
			runner:      runner,
		}, nil, nil)
		return
	}

	// Redirect lookups on the read path go through Redis when configured.
	var lookup redirect.Store
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		lookup = redirect.NewCachedStore(redirectStore, redisClient, log)
		log.Info("redirect cache enabled")
	}

	kafkaPub, err := publisher.NewKafka(ctx, cfg.Kafka, log)
	if err != nil {
		log.Error("kafka setup failed", "error", err)
		os.Exit(1)
	}
	if kafkaPub != nil {
		defer kafkaPub.Close()
	}

	recorder := audit.NewRecorder(auditStore)
	run(ctx, cfg, log, m, deps{
		people:      peopleStore,
		mergePeople: mergePeople,
		candidacies: candidacyStore,
		ballots:     ballotStore,
		redirects:   redirectStore,
		lookup:      lookup,
		recorder:    recorder,
		audits:      auditStore,
		runner:      runner,
	}, kafkaPub, outboxSource)
}

type deps struct {
	people      peopleService.Store
	mergePeople mergeapi.PeopleStore
	candidacies interface {
		peopleService.CandidacyStore
		mergeapi.CandidacyStore
	}
	ballots   ballotsService.Store
	redirects redirect.Store
	lookup    redirect.Store
	recorder  *audit.Recorder
	audits    audit.Store
	runner    storage.TxRunner
}

func run(
	ctx context.Context,
	cfg config.Config,
	log *slog.Logger,
	m *metrics.Metrics,
	d deps,
	kafkaPub *publisher.Kafka,
	outboxSource audit.OutboxSource,
) {
	tokens := jwtactor.New(cfg.Server.JWTSigningKey, "rollcall", "rollcall-api")

	peopleSvc := peopleService.New(
		d.people, d.candidacies, d.ballots, d.redirects, d.lookup,
		d.recorder, d.runner, m, log, cfg.Server.EditsAllowed,
	)
	mergeSvc := mergeapi.New(
		d.mergePeople, d.candidacies, d.ballots, d.redirects,
		d.recorder, d.runner, m, log,
	)
	ballotSvc := ballotsService.New(d.ballots, d.recorder, d.runner)

	router := httpapi.NewRouter(httpapi.Handlers{
		People:  peopleHandler.New(peopleSvc, log, tokens),
		Merge:   mergeHandler.New(mergeSvc, log, tokens),
		Ballots: ballotsHandler.New(ballotSvc, log, tokens),
		Audit:   auditHandler.New(d.recorder, log),
	}, log, m)

	srv := httpserver.New(cfg.Server.Addr, router)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("starting server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	if kafkaPub != nil && outboxSource != nil {
		worker := audit.NewWorker(outboxSource, kafkaPub, log, m)
		group.Go(func() error {
			err := worker.Run(ctx)
			if err == context.Canceled {
				return nil
			}
			return err
		})
	}
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
