// Command server boots the exchange core: loads configuration, recovers
// from the journal and latest snapshot if one exists, then starts the TCP
// order-entry gateway and the websocket trade/reject feed.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"fenrir/internal/catalog"
	"fenrir/internal/common"
	"fenrir/internal/config"
	"fenrir/internal/engine"
	"fenrir/internal/feed"
	"fenrir/internal/journal"
	"fenrir/internal/metrics"
	fenrirNet "fenrir/internal/net"
	"fenrir/internal/position"
	"fenrir/internal/replay"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// seedProducts are registered on every boot since spec §1 scopes product
// metadata loading out of this core; a real deployment would replace this
// with a catalog fed from an admin API or config file.
var seedProducts = []catalog.Product{
	{Symbol: "BTC-PERP", Tick: 1, MinSize: 0.001, MaxSize: 100, Leverage: 20, MaintenanceMarginRate: 0.03, MarkPrice: 6000000, Active: true},
	{Symbol: "ETH-PERP", Tick: 1, MinSize: 0.01, MaxSize: 1000, Leverage: 20, MaintenanceMarginRate: 0.03, MarkPrice: 300000, Active: true},
}

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (optional; env vars and defaults apply otherwise)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogging(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("failed to create data directory")
	}
	journalPath := filepath.Join(cfg.Storage.DataDir, cfg.Storage.JournalFile)

	cat := catalog.New()
	for _, p := range seedProducts {
		cat.Register(p)
	}

	meta, err := inspectJournal(journalPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to inspect journal for recovery")
	}

	durability := journal.DurabilityPolicy{
		FlushEveryRecords: cfg.Durability.FlushEveryRecords,
		FlushInterval:     cfg.Durability.FlushInterval,
		MaxFileSizeBytes:  cfg.Durability.MaxFileSizeBytes,
	}
	now := common.NowNanos()
	jr, err := openOrResumeWriter(journalPath, meta, durability)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open journal")
	}

	insurance := position.NewInsuranceFund(0)
	positions := position.New(cat, jr, insurance)
	positions.LiquidationPenaltyRate = cfg.Trading.LiquidationPenaltyRate
	positions.InsuranceFundShare = cfg.Trading.InsuranceFundShare

	eng := engine.New(cat, positions, jr, engine.Config{
		SelfTradePolicy: cfg.SelfTradePolicy(),
		MakerFeeRate:    cfg.Trading.MakerFeeRate,
		TakerFeeRate:    cfg.Trading.TakerFeeRate,
	})

	if _, err := replay.Recover(journalPath, meta.snapshot, eng, positions, now); err != nil {
		log.Fatal().Err(err).Msg("recovery failed")
	}

	reg := metrics.NewRegistry(prometheus.NewRegistry())
	eng.Metrics = reg

	hub := feed.NewHub()
	go hub.Run()

	srv := fenrirNet.New(cfg.Listen.Address, cfg.Listen.Port, eng)
	eng.Publisher = multiPublisher{tcp: srv, feedHub: hub}

	go srv.Run(ctx)
	go runFeedServer(ctx, cfg.Listen.Address, cfg.Listen.FeedPort, hub)
	go positions.RunFundingLoop(ctx, cfg.Trading.FundingInterval, cfg.Trading.FundingRate)
	go eng.RunMarkToMarketLoop(ctx, cfg.Trading.MarkPriceInterval)

	log.Info().Str("address", cfg.Listen.Address).Int("port", cfg.Listen.Port).Int("feed_port", cfg.Listen.FeedPort).Msg("exchange core running")

	<-ctx.Done()
	hub.Stop()
	if err := jr.Close(); err != nil {
		log.Error().Err(err).Msg("error closing journal")
	}
}

// multiPublisher fans out engine.Publisher events to both the TCP gateway
// (per-session reports) and the websocket feed (topic broadcast), since
// Engine holds a single Publisher field.
type multiPublisher struct {
	tcp     *fenrirNet.Server
	feedHub *feed.Hub
}

func (p multiPublisher) PublishTrade(trade common.Trade) {
	p.tcp.PublishTrade(trade)
	p.feedHub.PublishTrade(trade)
}

func (p multiPublisher) PublishReject(symbol, user, reason string) {
	p.tcp.PublishReject(symbol, user, reason)
	p.feedHub.PublishReject(symbol, user, reason)
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// journalMeta summarizes a pre-existing journal file enough to resume
// writing and replaying it: its original creation timestamp (carried
// forward by ResumeWriter), the last sequence actually appended, and the
// most recent snapshot it references, if any.
type journalMeta struct {
	exists    bool
	createdTs uint64
	lastSeq   uint64
	snapshot  *journal.SnapshotData
}

// inspectJournal scans path once, collecting the bookkeeping
// openOrResumeWriter and replay.Recover both need. A missing file is the
// normal state for a brand-new deployment, not an error.
func inspectJournal(path string) (journalMeta, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return journalMeta{}, nil
	}

	r, err := journal.OpenReader(path)
	if err != nil {
		return journalMeta{}, err
	}
	createdTs := r.Header.CreatedTs
	r.Close()

	meta := journalMeta{exists: true, createdTs: createdTs}
	var latest *journal.SnapshotBody
	segments, err := journal.Segments(path)
	if err != nil {
		return journalMeta{}, err
	}
	for _, seg := range segments {
		_, err = journal.ReadAll(seg, func(rec journal.Record) error {
			meta.lastSeq = rec.Header.Sequence
			if rec.Header.Type == journal.EventSnapshot {
				b := journal.DecodeSnapshotBody(rec.Body)
				latest = &b
			}
			return nil
		})
		if err != nil {
			return journalMeta{}, err
		}
	}
	if latest == nil {
		return meta, nil
	}

	data, err := journal.ReadSnapshotFile(latest.Path, latest.Hash)
	if err != nil {
		return journalMeta{}, err
	}
	meta.snapshot = &data
	return meta, nil
}

// openOrResumeWriter opens a fresh journal if none exists yet, or resumes
// appending to one recovered past meta.lastSeq.
func openOrResumeWriter(path string, meta journalMeta, policy journal.DurabilityPolicy) (*journal.Writer, error) {
	if !meta.exists {
		return journal.OpenWriter(path, policy)
	}
	return journal.ResumeWriter(path, meta.createdTs, meta.lastSeq, policy)
}

func runFeedServer(ctx context.Context, address string, port int, hub *feed.Hub) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user")
		if err := hub.ServeWS(w, r, userID); err != nil {
			log.Error().Err(err).Msg("feed: websocket upgrade failed")
		}
	})

	srv := &http.Server{Addr: fmt.Sprintf("%s:%d", address, port), Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("feed server stopped")
	}
}
