// Command vexchange is the process composition root: it wires the virtual
// clock, account ledger, matching engine, optional replay controller, and
// the REST/WebSocket façades into one running exchange, the same shape the
// teacher's cmd/pincex/main.go assembles its services in (load config, build
// a logger, construct each service, start HTTP, wait on signals).
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/qtexchange/vexchange/internal/archive"
	"github.com/qtexchange/vexchange/internal/coredomain"
	"github.com/qtexchange/vexchange/internal/coreengine"
	"github.com/qtexchange/vexchange/internal/eventbus"
	"github.com/qtexchange/vexchange/internal/exchange"
	"github.com/qtexchange/vexchange/internal/marketdata/cache"
	"github.com/qtexchange/vexchange/internal/platform/apiauth"
	"github.com/qtexchange/vexchange/internal/platform/config"
	"github.com/qtexchange/vexchange/internal/platform/logger"
	"github.com/qtexchange/vexchange/internal/replay"
	"github.com/qtexchange/vexchange/internal/rest"
	"github.com/qtexchange/vexchange/internal/vtime"
	"github.com/qtexchange/vexchange/internal/wsgateway"
)

func main() {
	replayCSV := flag.String("replay-csv", "", "path to a CSV of historical orders to replay in BACKTEST mode before serving live traffic")
	backtestStartMs := flag.Int64("replay-start-ms", 0, "virtual clock start time (unix ms) when -replay-csv is set; defaults to the first row's timestamp")
	flag.Parse()

	zapLogger, err := logger.New(os.Getenv("LOG_LEVEL"))
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	cfg, err := config.Load()
	if err != nil {
		zapLogger.Fatal("failed to load configuration", zap.Error(err))
	}

	clock := vtime.New()
	if *replayCSV != "" {
		clock = vtime.NewBacktest(*backtestStartMs)
	}

	makerRate := decimal.RequireFromString(cfg.Market.CommissionRateMaker)
	takerRate := decimal.RequireFromString(cfg.Market.CommissionRateTaker)
	ex := exchange.New(clock, coreengine.Commissions{Maker: makerRate, Taker: takerRate}, cfg.Market.AvgPriceWindow, zapLogger)

	registerDefaultSymbols(ex)

	archiveStore, err := archive.Open(cfg.Archive.SQLitePath, time.Duration(cfg.Archive.RetentionDays)*24*time.Hour, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to open order archive", zap.Error(err))
	}
	defer archiveStore.Close()
	archiveStore.ListenEngine(ex.Engine)

	bus := eventbus.New(cfg.Kafka.Brokers, eventbus.DefaultTopics(), zapLogger)
	defer bus.Close()
	bus.ListenEngine(ex.Engine)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	depthCache := cache.New(redisClient, 10*time.Second)
	wireDepthCache(ex, depthCache, zapLogger)

	keys := apiauth.NewKeyStore()

	restServer := rest.New(ex, clock, keys, zapLogger, cfg.Market.TimestampSkewMs)
	restServer.AttachArchive(archiveStore)

	hub := wsgateway.NewHub(8, 256)
	gateway := wsgateway.New(ex, hub, keys, zapLogger)

	if *replayCSV != "" {
		runReplay(ex, *replayCSV, cfg.Replay, zapLogger)
	}

	sweepTicker := time.NewTicker(1 * time.Hour)
	defer sweepTicker.Stop()
	go func() {
		for range sweepTicker.C {
			if n, err := archiveStore.Sweep(context.Background(), clock.NowMs()); err != nil {
				zapLogger.Error("archive sweep failed", zap.Error(err))
			} else if n > 0 {
				zapLogger.Info("swept archived orders", zap.Int64("count", n))
			}
		}
	}()

	go func() {
		zapLogger.Info("starting REST server", zap.String("addr", cfg.Server.HTTPAddr))
		if err := restServer.Start(cfg.Server.HTTPAddr); err != nil {
			zapLogger.Fatal("REST server failed", zap.Error(err))
		}
	}()
	go func() {
		zapLogger.Info("starting WS gateway", zap.String("addr", cfg.Server.WSAddr))
		mux := http.NewServeMux()
		mux.HandleFunc("/ws/market", gateway.ServePublic)
		mux.HandleFunc("/ws/user", gateway.ServePrivate)
		if err := http.ListenAndServe(cfg.Server.WSAddr, mux); err != nil {
			zapLogger.Fatal("WS gateway failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("shutting down")
}

// registerDefaultSymbols seeds the exchange with a small illustrative
// universe; a production deployment would load this from the exchangeInfo
// config spec.md §6.4 otherwise leaves unspecified.
func registerDefaultSymbols(ex *exchange.Exchange) {
	ex.RegisterSymbol(coredomain.SymbolSpec{
		Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT",
		BasePrecision: 8, QuotePrecision: 2,
		Filters: coredomain.Filters{
			Price:       coredomain.PriceFilter{Min: decimal.NewFromInt(1), Max: decimal.NewFromInt(10_000_000), Tick: decimal.RequireFromString("0.01")},
			Lot:         coredomain.LotFilter{Min: decimal.RequireFromString("0.00001"), Max: decimal.NewFromInt(10_000), Step: decimal.RequireFromString("0.00001")},
			MinNotional: decimal.NewFromInt(10),
		},
	})
	ex.RegisterSymbol(coredomain.SymbolSpec{
		Symbol: "ETHUSDT", BaseAsset: "ETH", QuoteAsset: "USDT",
		BasePrecision: 8, QuotePrecision: 2,
		Filters: coredomain.Filters{
			Price:       coredomain.PriceFilter{Min: decimal.RequireFromString("0.01"), Max: decimal.NewFromInt(1_000_000), Tick: decimal.RequireFromString("0.01")},
			Lot:         coredomain.LotFilter{Min: decimal.RequireFromString("0.0001"), Max: decimal.NewFromInt(100_000), Step: decimal.RequireFromString("0.0001")},
			MinNotional: decimal.NewFromInt(10),
		},
	})
}

// wireDepthCache mirrors every market depth change into Redis so readers
// outside this process can serve depth without calling into the engine.
func wireDepthCache(ex *exchange.Exchange, dc *cache.DepthCache, log *zap.Logger) {
	for _, spec := range ex.ExchangeInfo() {
		symbol := spec.Symbol
		ex.SubscribeMarket(symbol, func(ev coreengine.Event) {
			bids, asks, lastUpdateID, err := ex.MarketDepth(symbol, 100)
			if err != nil {
				return
			}
			snap := cache.DepthSnapshot{
				Symbol: symbol, Bids: bids, Asks: asks,
				LastUpdateID: lastUpdateID, CapturedAtMs: ex.ServerTime(),
			}
			if err := dc.Set(context.Background(), snap); err != nil {
				log.Error("depth cache publish failed", zap.String("symbol", symbol), zap.Error(err))
			}
		})
	}
}

// runReplay drains path through ex synchronously before live traffic
// begins, the backtest-then-serve pattern spec.md §4.5 describes.
func runReplay(ex *exchange.Exchange, path string, cfg config.ReplayConfig, log *zap.Logger) {
	f, err := os.Open(path)
	if err != nil {
		log.Fatal("failed to open replay CSV", zap.String("path", path), zap.Error(err))
	}
	src, err := replay.NewCSVSource(f)
	if err != nil {
		log.Fatal("failed to parse replay CSV", zap.String("path", path), zap.Error(err))
	}

	mode := replay.ModeBacktest
	switch cfg.Mode {
	case "stepped":
		mode = replay.ModeStepped
	case "realtime":
		mode = replay.ModeRealtime
	case "accelerated":
		mode = replay.ModeAccelerated
	}

	controller := replay.New(ex.Clock, replay.Config{
		Mode: mode, SpeedFactor: cfg.SpeedFactor,
		BatchCallbacks: cfg.BatchCallbacks, MemoryOptimized: cfg.MemoryOptimized,
	}, log)
	ex.AttachReplay(controller)

	controller.RegisterCallback(func(sourceID string, payload any) {
		req, ok := payload.(coreengine.SubmitRequest)
		if !ok {
			return
		}
		if _, _, err := ex.SubmitOrder(req); err != nil {
			log.Error("replay order submit failed", zap.String("source", sourceID), zap.Error(err))
		}
	})

	ctx := context.Background()
	if err := controller.AddSource(ctx, path, src); err != nil {
		log.Fatal("failed to register replay source", zap.Error(err))
	}
	if _, err := controller.ProcessAllSync(ctx); err != nil {
		log.Fatal("replay failed", zap.Error(err))
	}
	log.Info("replay complete", zap.Int64("emitted", controller.Progress().Emitted))
}
