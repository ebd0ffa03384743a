package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"bazaar/internal/archive/postgres"
	"bazaar/internal/clock"
	"bazaar/internal/config"
	"bazaar/internal/ledger"
	"bazaar/internal/market"
	"bazaar/internal/metrics"
	bazaarNet "bazaar/internal/net"
	"bazaar/internal/registry"
)

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load configuration")
	}

	// Embedded simulation ledgers stand in for the external token and
	// asset contracts.
	tokens := ledger.NewTokenLedger()
	assets := ledger.NewAssetLedger()
	if cfg.GenesisPath != "" {
		genesis, err := ledger.LoadGenesis(cfg.GenesisPath)
		if err != nil {
			log.Fatal().Err(err).Msg("unable to load genesis")
		}
		if err := ledger.Apply(genesis, tokens, assets); err != nil {
			log.Fatal().Err(err).Msg("unable to apply genesis")
		}
	}

	gate, err := market.NewStaticGate(market.Address(cfg.Owner))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid owner")
	}

	reg := registry.New()
	bus := market.NewBus()
	operator := market.Address(cfg.Operator)

	mkt, err := market.New(
		reg,
		assets.Operator(operator),
		tokens.Spender(operator),
		gate,
		market.DirectResolver{},
		clock.NewSystem(),
		bus,
		market.Config{
			Beneficiary:        market.Address(cfg.Beneficiary),
			OwnerCutPerMillion: cfg.OwnerCutPerMillion,
			PublicationFee:     cfg.PublicationFee,
		},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to build marketplace")
	}

	collector := metrics.NewCollector("bazaar", func() float64 {
		return float64(reg.Len())
	})
	collector.Attach(bus)

	t, ctx := tomb.WithContext(ctx)

	if cfg.ArchiveDSN != "" {
		arch, err := postgres.Open(ctx, cfg.ArchiveDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("unable to open event archive")
		}
		defer arch.Close()
		arch.Attach(t, bus)
	}

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: collector.Handler()}
	t.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
		return nil
	})
	t.Go(func() error {
		<-t.Dying()
		return metricsSrv.Close()
	})

	srv := bazaarNet.New(cfg.ListenAddr, cfg.ListenPort, mkt, bus)
	srv.SetObserver(collector)

	go srv.Run(ctx)
	<-ctx.Done()
	t.Kill(nil)
	_ = t.Wait()
}
