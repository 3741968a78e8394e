package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	accountrepo "github.com/driftwoodlabs/pds/internal/account/repository"
	accountservice "github.com/driftwoodlabs/pds/internal/account/service"
	"github.com/driftwoodlabs/pds/internal/common/clock"
	"github.com/driftwoodlabs/pds/internal/common/config"
	commoncrypto "github.com/driftwoodlabs/pds/internal/common/crypto"
	"github.com/driftwoodlabs/pds/internal/common/db"
	commonhttp "github.com/driftwoodlabs/pds/internal/common/http"
	"github.com/driftwoodlabs/pds/internal/common/logger"
	srv "github.com/driftwoodlabs/pds/internal/common/server"
	"github.com/driftwoodlabs/pds/internal/identity"
	"github.com/driftwoodlabs/pds/internal/invite"
	"github.com/driftwoodlabs/pds/internal/keystore"
	"github.com/driftwoodlabs/pds/internal/plc"
	"github.com/driftwoodlabs/pds/internal/provision"
	provisionhttp "github.com/driftwoodlabs/pds/internal/provision/http"
	"github.com/driftwoodlabs/pds/internal/repo"
	"github.com/driftwoodlabs/pds/internal/sequencer"
)

func main() {
	log, err := logger.New(os.Getenv("LOG_DIR"), "pds", os.Getenv("LOG_LEVEL"))
	if err != nil {
		os.Stderr.WriteString(fmt.Sprintf("failed to initialize logger: %v\n", err))
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	operator, err := identity.KeypairFromSeed(cfg.RotationKeySeed)
	if err != nil {
		log.Fatalf("failed to load operator key: %v", err)
	}

	pool := db.NewPool(log, cfg.DatabaseURL)
	defer pool.Close()

	if err := db.EnsureSchema(context.Background(), pool); err != nil {
		log.Fatalf("failed to ensure database schema: %v", err)
	}

	clk := clock.NewRealClock()

	keys := keystore.NewPgStore(pool)
	repos := repo.NewPgStore(pool, clk)
	accounts := accountrepo.NewPgStore(pool)
	invites := invite.NewPgStore(pool)

	hub := sequencer.NewHub(log)
	seq := sequencer.NewPgSequencer(pool, hub, clk, log)

	manager := accountservice.NewAccountManager(
		accountservice.ManagerDeps{
			Store:  accounts,
			Hasher: &commoncrypto.BcryptHasher{},
			IDGen:  &commoncrypto.UUIDGenerator{},
			Clock:  clk,
			Log:    log,
		},
		accountservice.ManagerConfig{
			JWTSecret:       cfg.JWTSecret,
			ServiceDID:      cfg.ServiceDID,
			AccessTokenTTL:  cfg.AccessTokenTTL,
			RefreshTokenTTL: cfg.RefreshTokenTTL,
		},
	)

	ledger := plc.NewClient(cfg.PLCURL, cfg.PLCTimeout, cfg.PLCSettleDelay, log)
	resolver := identity.NewHTTPResolver(cfg.PLCURL, cfg.ResolverTimeout)

	validator := provision.NewValidator(
		provision.ValidatorDeps{
			Keys:     keys,
			Accounts: accounts,
			Invites:  invites,
			Operator: operator,
			Log:      log,
		},
		provision.ValidatorConfig{
			PublicURL:       cfg.PublicURL,
			RecoveryDIDKey:  cfg.RecoveryDIDKey,
			InviteRequired:  cfg.InviteRequired,
			EntrywayEnabled: cfg.EntrywayEnabled,
		},
	)

	orchestrator := provision.NewOrchestrator(provision.OrchestratorDeps{
		Keys:      keys,
		Repos:     repos,
		Accounts:  manager,
		Invites:   invites,
		Ledger:    ledger,
		Resolver:  resolver,
		Sequencer: seq,
		Operator:  operator,
		Log:       log,
	})

	handler := provisionhttp.NewHandler(validator, orchestrator, provisionhttp.HandlerConfig{
		ServiceDID:     cfg.ServiceDID,
		InviteRequired: cfg.InviteRequired,
		JWTSecret:      cfg.JWTSecret,
		RequestTimeout: cfg.RequestTimeout,
	}, log)

	restMux := http.NewServeMux()
	restMux.Handle("/", handler)
	restMux.HandleFunc("/health", commonhttp.HealthHandler(log))
	restMux.Handle("/metrics", promhttp.Handler())

	// The firehose hijacks its connection on upgrade, so it sits outside
	// the metrics-wrapped REST chain.
	mainMux := http.NewServeMux()
	mainMux.Handle("/xrpc/com.atproto.sync.subscribeRepos", hub)
	mainMux.Handle("/", commonhttp.BuildBaseHandler(log, restMux))

	server := srv.New(srv.DefaultConfig(cfg.HTTPPort), mainMux)

	shutdownHooks := []srv.ShutdownHook{
		func(ctx context.Context) error {
			log.Info("closing firehose subscribers")
			hub.Close()
			return nil
		},
	}

	srv.StartWithGracefulShutdown(server, log, "pds", shutdownHooks)
}
