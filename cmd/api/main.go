package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/ManadaHerath/pixelmap-server/internal/api"
	"github.com/ManadaHerath/pixelmap-server/internal/compositor"
	"github.com/ManadaHerath/pixelmap-server/internal/config"
	"github.com/ManadaHerath/pixelmap-server/internal/engine"
	"github.com/ManadaHerath/pixelmap-server/internal/grid"
	"github.com/ManadaHerath/pixelmap-server/internal/log"
	"github.com/ManadaHerath/pixelmap-server/internal/mapdata"
	"github.com/ManadaHerath/pixelmap-server/internal/market"
	"github.com/ManadaHerath/pixelmap-server/internal/raster"
	"github.com/ManadaHerath/pixelmap-server/internal/view"
	"github.com/ManadaHerath/pixelmap-server/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := log.Init(log.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}); err != nil {
		log.Fatalf("log: %v", err)
	}

	initial, err := decimal.NewFromString(cfg.Wallet.InitialCredits)
	if err != nil {
		log.Fatalf("wallet.initial_credits: %v", err)
	}

	var (
		ledger grid.Store
		purse  wallet.Service
	)
	switch cfg.Store.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Redis.Timeout)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.Fatalf("redis %s: %v", cfg.Redis.Addr, err)
		}
		ledger = grid.NewRedisStore(rdb, cfg.Redis.Prefix, cfg.Redis.Timeout)
		purse = wallet.NewRedisWallet(rdb, cfg.Redis.Prefix+":wallet", initial, cfg.Redis.Timeout)
		log.Infof("Using Redis at %s", cfg.Redis.Addr)
	default:
		ledger = grid.NewMemStore()
		purse = wallet.NewMemWallet(initial)
		log.Info("Using in-memory ledger and wallet")
	}

	md, err := mapdata.LoadFile(cfg.Map.SVGPath, cfg.Map.DistrictsPath)
	if err != nil {
		log.Fatalf("map: %v", err)
	}

	unsoldColor, err := grid.ParseColor(cfg.Render.UnsoldColor)
	if err != nil {
		log.Fatalf("render.unsold_color: %v", err)
	}
	borderColor, err := grid.ParseColor(cfg.Render.BorderColor)
	if err != nil {
		log.Fatalf("render.border_color: %v", err)
	}
	highlightColor, err := grid.ParseColor(cfg.Render.HighlightHex)
	if err != nil {
		log.Fatalf("render.highlight_color: %v", err)
	}

	images, err := compositor.NewImageLoader(compositor.ImageLoaderOptions{
		Timeout:       cfg.Images.Timeout,
		MaxConcurrent: cfg.Images.MaxConcurrent,
		CacheBytes:    cfg.Images.CacheBytes,
		MaxPixels:     cfg.Images.MaxPixels,
		MaxSide:       cfg.Images.MaxSide,
	})
	if err != nil {
		log.Fatalf("images: %v", err)
	}
	defer images.Close()

	loader := raster.NewLoader(raster.SVGRasterizer{}, cfg.Map.Cols, cfg.Map.CellSize)
	comp := compositor.New(compositor.Options{
		CellSize:  cfg.Map.CellSize,
		Unsold:    unsoldColor,
		Border:    borderColor,
		Highlight: highlightColor,
	}, images)
	m := engine.NewMap(md, loader, comp, ledger, cfg.Render.Interval)
	m.WatchImages(images)

	pricer := market.NewPricer(cfg.Market.RaritySeed, nil)
	bounds := market.Bounds{
		MinLat: cfg.Market.MinLat,
		MaxLat: cfg.Market.MaxLat,
		MinLon: cfg.Market.MinLon,
		MaxLon: cfg.Market.MaxLon,
	}
	hits := market.NewHitTester(loader, ledger, pricer, bounds, md)
	svc := market.NewService(loader, ledger, purse, pricer, hits)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := m.Start(ctx); err != nil {
		log.Fatalf("engine: %v", err)
	}

	apiHandler := api.NewAPI(m, hits, svc, ledger, purse, engine.ViewerOptions{
		View: view.Options{
			MinZoom:    cfg.View.MinZoom,
			MaxZoom:    cfg.View.MaxZoom,
			ButtonStep: cfg.View.ButtonStep,
			WheelStep:  cfg.View.WheelStep,
			FitMargin:  cfg.View.FitMargin,
			IdleReset:  cfg.View.IdleReset,
			CellSize:   float64(cfg.Map.CellSize),
		},
		DragThreshold: cfg.View.DragThreshold,
		Viewport:      view.Size{W: cfg.View.ViewportWidth, H: cfg.View.ViewportHeight},
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           apiHandler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		// Viewer sessions end with the process context.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		log.Infof("Server listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("http shutdown: %v", err)
	}
}
