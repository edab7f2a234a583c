// Package server bootstraps a dkvd node: it wires the clock, storage
// backend, journal, registry, security and resolver engines, backpressure
// regulator, cluster coordinator, and the client/cluster listeners into one
// running process, mirroring how internal/server.New assembles MaxIOFS's
// managers from a loaded Config.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/maxiokv/dkvd/internal/antientropy"
	"github.com/maxiokv/dkvd/internal/clock"
	"github.com/maxiokv/dkvd/internal/cluster"
	"github.com/maxiokv/dkvd/internal/coalesce"
	"github.com/maxiokv/dkvd/internal/config"
	"github.com/maxiokv/dkvd/internal/journal"
	"github.com/maxiokv/dkvd/internal/metrics"
	"github.com/maxiokv/dkvd/internal/partition"
	"github.com/maxiokv/dkvd/internal/ratelimit"
	"github.com/maxiokv/dkvd/internal/resolver"
	"github.com/maxiokv/dkvd/internal/scheduler"
	"github.com/maxiokv/dkvd/internal/security"
	"github.com/maxiokv/dkvd/internal/session"
	"github.com/maxiokv/dkvd/internal/storageadapter"
)

// Server owns every long-lived component of a dkvd node and the two
// listeners (client session protocol, cluster HTTP surface) that front them.
type Server struct {
	cfg *config.Config
	log *logrus.Entry

	clock     *clock.Clock
	storage   storageadapter.Adapter
	journal   *journal.Journal
	registry  *session.Registry
	security  *security.Engine
	resolver  *resolver.Engine
	regulator *session.Regulator
	wcTracker *session.WriteConcernTracker
	pipeline  *session.Pipeline
	scheduler *scheduler.Scheduler

	partitions  *partition.Manager
	coordinator *cluster.Coordinator

	hub      *sessionHub
	auth     session.Authenticator
	connRate *ratelimit.ConnectionRateLimiter

	metricsReg *prometheus.Registry
	metrics    *metrics.Metrics

	clientListener net.Listener
	httpServer     *http.Server

	startTime time.Time
}

// New assembles a Server from cfg without starting any listener.
func New(cfg *config.Config) (*Server, error) {
	logger := logrus.StandardLogger()
	log := logger.WithFields(logrus.Fields{"component": "server", "node_id": cfg.NodeID})

	clk, err := clock.New(cfg.NodeID,
		clock.WithDriftMode(driftModeFromString(cfg.Clock.DriftMode)),
		clock.WithMaxDrift(time.Duration(cfg.Clock.MaxDriftMs)*time.Millisecond),
		clock.WithDriftLogger(func(remote clock.Timestamp, drift time.Duration) {
			log.WithFields(logrus.Fields{"remote_node": remote.NodeID, "drift": drift}).Warn("accepted timestamp beyond max drift")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to construct clock: %w", err)
	}

	storageBackend, err := newStorageAdapter(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage backend: %w", err)
	}
	if err := storageBackend.Initialize(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize storage backend: %w", err)
	}

	journalStore, err := journal.NewSQLiteStore(journalDBPath(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create journal store: %w", err)
	}
	j, err := journal.New(cfg.NodeID, journal.Config{
		Capacity:         cfg.Journal.Capacity,
		PersistInterval:  time.Duration(cfg.Journal.PersistIntervalMs) * time.Millisecond,
		PersistBatchSize: cfg.Journal.PersistBatchSize,
		RetentionDays:    cfg.Journal.RetentionDays,
	}, journalStore, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create journal: %w", err)
	}

	registry := session.NewRegistry(defaultMerkleFanout, defaultMerkleDepth)

	policies, err := loadSecurityPolicies(cfg.Security.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load security policies: %w", err)
	}
	secEngine := security.NewEngine(policies)

	rules, err := loadResolverRules(cfg.Resolver.RuleFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load conflict resolver rules: %w", err)
	}
	resolverEngine := resolver.NewEngine(rules)

	regulator := session.NewRegulator(session.RegulatorConfig{
		MaxPending:            cfg.Regulator.MaxPending,
		ForceEveryN:           cfg.Regulator.ForceEveryN,
		EarlyForceProbability: cfg.Regulator.EarlyForceProbability,
	})

	partitions := partition.NewManager(cfg.Partition.Count, cfg.Partition.Replicas)
	wcTracker := session.NewWriteConcernTracker(cfg.Partition.Replicas, time.Duration(cfg.WriteConcern.AckTimeoutMs)*time.Millisecond)

	hub := newSessionHub(logger)

	metricsReg := prometheus.NewRegistry()
	m := metrics.New(metricsReg)

	pipeline := session.NewPipeline(cfg.NodeID, clk, registry, storageBackend, j, secEngine, resolverEngine, hub, wcTracker, regulator, logger)
	pipeline.Interceptors = append(pipeline.Interceptors, opsCounterInterceptor(m))
	hub.bindPipeline(pipeline)

	sched := scheduler.New(scheduler.DefaultConfig(), logger)

	handoff := antientropy.NewHandoffExecutor(cfg.NodeID, registry, partitions, logger)
	coordinator := cluster.NewCoordinator(cfg.NodeID, partitions, handoff, logger)
	handoff.BindCoordinator(coordinator)
	repl := newReplicator(cfg.NodeID, partitions, coordinator, wcTracker, m, logger)
	pipeline.OnAfterOp = append(pipeline.OnAfterOp, repl.afterOp)

	auth, err := newTokenAuthenticator(cfg.Security.JWTSecretFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load authentication tokens: %w", err)
	}

	connRate := ratelimit.New(ratelimit.Config{
		MaxConnectionsPerSecond: defaultMaxConnectionsPerSecond,
		MaxPendingConnections:   defaultMaxPendingConnections,
	})

	return &Server{
		cfg: cfg, log: log,
		clock: clk, storage: storageBackend, journal: j, registry: registry,
		security: secEngine, resolver: resolverEngine, regulator: regulator,
		wcTracker: wcTracker, pipeline: pipeline, scheduler: sched,
		partitions: partitions, coordinator: coordinator,
		hub: hub, auth: auth, connRate: connRate,
		metricsReg: metricsReg, metrics: m,
	}, nil
}

const (
	defaultMerkleFanout            = 16
	defaultMerkleDepth             = 4
	defaultMaxConnectionsPerSecond = 500
	defaultMaxPendingConnections   = 1000
	defaultHostSampleInterval      = 10 * time.Second
)

func driftModeFromString(s string) clock.DriftMode {
	if s == "strict" {
		return clock.DriftStrict
	}
	return clock.DriftLenient
}

func journalDBPath(cfg *config.Config) string {
	return cfg.DataDir + "/journal.db"
}

// Start runs the client and cluster HTTP listeners until ctx is cancelled,
// then shuts both down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.startTime = time.Now()
	s.log.WithFields(logrus.Fields{
		"listen":    s.cfg.Listen,
		"http_addr": s.cfg.HTTPAddr,
		"data_dir":  s.cfg.DataDir,
	}).Info("starting dkvd node")

	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	s.clientListener = ln

	router := cluster.NewRouter(s.coordinator, s.hub, logrus.StandardLogger())
	router.Handle("/metrics", promhttp.HandlerFor(s.metricsReg, promhttp.HandlerOpts{}))
	s.httpServer = &http.Server{Addr: s.cfg.HTTPAddr, Handler: router}

	go s.acceptLoop(ctx)
	go s.metrics.RunHostSampler(ctx, defaultHostSampleInterval)

	go func() {
		var err error
		if s.cfg.EnableTLS {
			err = s.httpServer.ListenAndServeTLS(s.cfg.CertFile, s.cfg.KeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("cluster http server error")
		}
	}()

	<-ctx.Done()
	return s.shutdown()
}

func (s *Server) shutdown() error {
	s.log.Info("shutting down dkvd node")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.clientListener != nil {
		_ = s.clientListener.Close()
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.WithError(err).Warn("cluster http server did not shut down cleanly")
		}
	}
	s.scheduler.Close()
	return s.journal.Close()
}
