// Command mycelium runs the full agent population: data producers, signal
// producers, the collision synthesizer, supervision, prospecting, and the
// archiver, against a paper exchange.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/quantfabric/mycelium/internal/agents"
	"github.com/quantfabric/mycelium/internal/archive"
	"github.com/quantfabric/mycelium/internal/bus"
	"github.com/quantfabric/mycelium/internal/config"
	"github.com/quantfabric/mycelium/internal/db"
	"github.com/quantfabric/mycelium/internal/exchange"
	"github.com/quantfabric/mycelium/internal/scheduler"
	"github.com/quantfabric/mycelium/internal/state"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	cadence := flag.Duration("cadence", time.Second, "scheduler tick cadence")
	flag.Parse()

	if err := run(*configPath, *cadence); err != nil {
		log.Fatal().Err(err).Msg("Fatal error")
	}
}

func run(configPath string, cadence time.Duration) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	log.Info().Str("environment", cfg.App.Environment).Msg("Starting mycelium")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messageBus, err := bus.Connect(bus.Config{
		URL:            cfg.Bus.URL,
		Name:           cfg.App.Name,
		Prefix:         cfg.Bus.Prefix,
		InitialBackoff: cfg.Bus.InitialBackoff,
		MaxBackoff:     cfg.Bus.MaxBackoff,
		PingInterval:   cfg.Bus.PingInterval,
	})
	if err != nil {
		return fmt.Errorf("connecting to message broker: %w", err)
	}
	defer messageBus.Close()

	store, err := state.Connect(state.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
	})
	if err != nil {
		return fmt.Errorf("connecting to shared state: %w", err)
	}
	defer store.Close()

	var database *db.DB
	if cfg.Database.URL != "" {
		database, err = db.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
	} else {
		log.Warn().Msg("No database configured, archival disabled")
	}

	venue := exchange.NewPaper(exchange.PaperConfig{
		FeePct:      cfg.Exchange.FeePct,
		SlippagePct: cfg.Exchange.SlippagePct,
	})

	var archiver *archive.Archiver
	if database != nil {
		archiver = archive.New(archive.Config{
			ValueThreshold: cfg.Archive.ValueThreshold,
		}, store, database)
	}

	sched := scheduler.New(scheduler.Config{
		ArchiveInterval: cfg.Archive.IntervalTicks,
		ArchiveHook: func(ctx context.Context, tick uint64) {
			if archiver == nil {
				return
			}
			if _, err := archiver.Flush(ctx); err != nil {
				log.Warn().Err(err).Msg("Archive flush failed")
			}
		},
		PreTickHook: agents.NewContagionCheck(
			store, messageBus,
			cfg.Swarm.PolicyContagionThreshold,
			cfg.Swarm.PolicyContagionShareBound,
			cfg.Builder.ScanIntervalTicks,
		),
	})

	factory := newTeamFactory(cfg, messageBus, store, venue)

	template := agents.DefaultTeamTemplate()
	if cfg.Builder.TemplatePath != "" {
		data, err := os.ReadFile(cfg.Builder.TemplatePath)
		if err != nil {
			return fmt.Errorf("reading team template: %w", err)
		}
		template, err = agents.ParseTeamTemplate(data)
		if err != nil {
			return err
		}
	}

	builder, err := agents.NewBuilder(agents.BuilderConfig{
		Registry:           sched,
		Factory:            factory,
		Template:           template,
		MaxActiveAssets:    cfg.Builder.MaxActiveAssets,
		DeploymentCooldown: cfg.Builder.DeploymentCooldown,
	}, messageBus, store, venue)
	if err != nil {
		return fmt.Errorf("creating builder: %w", err)
	}
	sched.Register(builder)

	if err := buildCore(cfg, sched, builder, messageBus, store, venue); err != nil {
		return err
	}

	// Prospecting layer: three agents per team, rule of three.
	for _, team := range agents.Teams {
		for i := 0; i < 3; i++ {
			sched.Register(agents.NewProspector(agents.ProspectorConfig{
				Team:         team,
				ScanInterval: cfg.Builder.ScanIntervalTicks,
				Active:       builder,
			}, messageBus, store, venue))
		}
	}
	aggregator, err := agents.NewConsensusAggregator(agents.ConsensusConfig{}, messageBus, store, venue)
	if err != nil {
		return fmt.Errorf("creating consensus aggregator: %w", err)
	}
	sched.Register(aggregator)

	// Initial teams for the configured pairs.
	for _, pair := range cfg.Trading.Pairs {
		team, err := factory(pair, template)
		if err != nil {
			return fmt.Errorf("deploying initial team for %s: %w", pair, err)
		}
		names := make([]string, 0, len(team))
		for _, a := range team {
			sched.Register(a)
			names = append(names, a.Name())
		}
		builder.MarkActive(pair, names)
	}

	var tradeLogger *db.TradeLogger
	closers := []func() error{}
	if database != nil {
		tradeLogger, err = db.NewTradeLogger(messageBus, database)
		if err != nil {
			return fmt.Errorf("creating trade logger: %w", err)
		}
		closers = append(closers, tradeLogger.Close, database.Close)
	}

	coordinator, err := agents.NewShutdownCoordinator(agents.ShutdownConfig{
		Flush: func(ctx context.Context) error {
			if archiver == nil {
				return nil
			}
			_, err := archiver.Flush(ctx)
			return err
		},
		Closers: closers,
		Stop:    sched.Stop,
	}, messageBus, store, venue)
	if err != nil {
		return fmt.Errorf("creating shutdown coordinator: %w", err)
	}
	sched.Register(coordinator)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sched.Run(gctx, cadence)
	})

	if cfg.App.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:    cfg.App.MetricsAddr,
			Handler: promhttp.Handler(),
		}
		g.Go(func() error {
			log.Info().Str("addr", cfg.App.MetricsAddr).Msg("Metrics server listening")
			if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigs:
			log.Warn().Str("signal", sig.String()).Msg("Signal received, initiating shutdown")
			if err := messageBus.Publish("main", bus.TopicSystemControl, &bus.ControlCommand{
				Command: bus.CommandEmergencyShutdown,
				Reason:  "signal " + sig.String(),
				Source:  "main",
			}); err != nil {
				log.Warn().Err(err).Msg("Shutdown broadcast failed")
			}
			// Give the coordinator a moment to flush before tearing down.
			time.Sleep(2 * time.Second)
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	err = g.Wait()
	if err == context.Canceled {
		err = nil
	}
	log.Info().Msg("Mycelium stopped")
	return err
}

// buildCore wires the singleton agents: trader, risk manager, P&L tracker.
func buildCore(cfg *config.Config, sched *scheduler.Scheduler, builder *agents.Builder, b bus.Bus, st state.Store, venue exchange.Connector) error {
	trader, err := agents.NewTrader(agents.TraderConfig{
		CollisionWindow:  cfg.Trading.CollisionWindow,
		RoundTripCostPct: cfg.RoundTripCostPct(),
		OrderAmount:      cfg.Trading.OrderAmount,
	}, b, st, venue)
	if err != nil {
		return fmt.Errorf("creating trader: %w", err)
	}
	sched.Register(trader)

	riskManager, err := agents.NewRiskManager(agents.RiskManagerConfig{
		InitialPortfolioValue: cfg.Risk.InitialPortfolioValue,
		MaxDrawdown:           cfg.Risk.MaxDrawdown,
	}, b, st, venue)
	if err != nil {
		return fmt.Errorf("creating risk manager: %w", err)
	}
	sched.Register(riskManager)

	tracker, err := agents.NewPnLTracker(builder, b, st, venue)
	if err != nil {
		return fmt.Errorf("creating pnl tracker: %w", err)
	}
	sched.Register(tracker)
	return nil
}

// newTeamFactory returns the standard team construction: one market producer,
// the template's TA agents, and its pattern learners.
func newTeamFactory(cfg *config.Config, b bus.Bus, st state.Store, venue exchange.Connector) agents.TeamFactory {
	return func(pair string, tmpl agents.TeamTemplate) ([]agents.Agent, error) {
		team := make([]agents.Agent, 0, 1+tmpl.TechnicalAgents+tmpl.Learners)

		team = append(team, agents.NewMarketProducer(agents.MarketProducerConfig{
			Pair:          pair,
			Period:        cfg.Producers.Period,
			FetchInterval: cfg.Producers.FetchInterval,
		}, b, st, venue))

		for i := 0; i < tmpl.TechnicalAgents; i++ {
			ta, err := agents.NewTechnicalAgent(agents.TechnicalAgentConfig{
				Pair:        pair,
				Cooldown:    cfg.Trading.SignalCooldown,
				OrderAmount: cfg.Trading.OrderAmount,
			}, b, st, venue)
			if err != nil {
				return nil, err
			}
			team = append(team, ta)
		}

		for i := 0; i < tmpl.Learners; i++ {
			focus := agents.FocusFinance
			if len(tmpl.LearnerFocus) > 0 {
				focus = tmpl.LearnerFocus[i%len(tmpl.LearnerFocus)]
			}
			learner, err := agents.NewLearner(agents.LearnerConfig{
				Pair:         pair,
				ProductFocus: focus,
			}, b, st, venue)
			if err != nil {
				return nil, err
			}
			team = append(team, learner)
		}
		return team, nil
	}
}
