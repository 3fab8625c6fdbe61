package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tickerboard/internal/batch"
	"tickerboard/internal/config"
	"tickerboard/internal/server"
	"tickerboard/internal/ticker"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	log, err := newLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Fatal("fatal", zap.Error(err))
	}
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.TimeKey = "time"
	return cfg.Build()
}

func run(log *zap.Logger) error {
	cfg, err := config.Load("config")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	client := server.NewClient(cfg.Rest.Timeout())

	store := ticker.NewRecordStore()
	hub := ticker.NewSubscriptionHub()
	rotor := ticker.NewEndpointRotor(cfg.Stream.Mirrors)
	backoff := ticker.NewBackoffScheduler()
	engine := ticker.NewAggregator(store, hub, rotor, backoff, log.Named("stream"))
	cascade := ticker.NewSnapshotCascade(store, hub, client,
		cfg.Rest.AggregatorURL, cfg.Rest.Domains, cfg.Rest.Timeout(), log.Named("snapshot"))
	lazy := ticker.NewLazyDetailFetcher(store, hub, client,
		cfg.Rest.Domains, cfg.Rest.Timeout(), log.Named("lazy"))

	agg := batch.NewAggregator(client, cfg.Rest.Domains[0],
		cfg.Batch.TopN, cfg.Batch.BatchSize, cfg.Rest.Timeout(), log.Named("batch"))
	srv := server.New(agg, engine, store, lazy, cfg.Batch, log.Named("server"))

	// Bootstrap the store while the stream connects; whichever lands last
	// wins per field, by design of the feed.
	go cascade.Acquire(context.Background())
	engine.Connect()

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return err
	}
	defer ln.Close()
	log.Info("serving", zap.String("addr", ln.Addr().String()), zap.String("tier", cfg.Batch.Tier))

	httpServer := &http.Server{Handler: loggingMiddleware(srv, log.Named("http"))}
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	sig := <-sigCh
	log.Info("shutting down", zap.String("signal", sig.String()))

	engine.Disconnect()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
}

func (lw *loggingResponseWriter) WriteHeader(status int) {
	lw.status = status
	lw.ResponseWriter.WriteHeader(status)
}

func (lw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lw.status == 0 {
		lw.status = http.StatusOK
	}
	return lw.ResponseWriter.Write(b)
}

func loggingMiddleware(next http.Handler, log *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(lrw, r)
		log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", lrw.status),
			zap.Duration("took", time.Since(start).Round(time.Millisecond)))
	})
}
