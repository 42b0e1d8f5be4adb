// conduitd serves a single database session over HTTP.
//
// Usage:
//
//	conduitd -config conduit.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/koustreak/conduit/internal/config"
	"github.com/koustreak/conduit/internal/export"
	exportminio "github.com/koustreak/conduit/internal/export/minio"
	"github.com/koustreak/conduit/internal/logger"
	"github.com/koustreak/conduit/internal/server"
	"github.com/koustreak/conduit/internal/session"
	"github.com/koustreak/conduit/internal/session/mysql"
	"github.com/koustreak/conduit/internal/session/postgres"
	"github.com/koustreak/conduit/internal/session/sqlite"
)

func main() {
	configPath := flag.String("config", "conduit.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "conduitd: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	if err := run(cfg, log); err != nil {
		log.Fatalf("conduitd: %v", err)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Str("target", conn.Target()).Str("conn_id", conn.ID()).Info("connected")

	var exporter *export.Exporter
	if cfg.Export.Enabled {
		sink, err := exportminio.New(ctx, &exportminio.Config{
			Endpoint:  cfg.Export.Endpoint,
			AccessKey: cfg.Export.AccessKey,
			SecretKey: cfg.Export.SecretKey,
			UseSSL:    cfg.Export.UseSSL,
			Bucket:    cfg.Export.Bucket,
		})
		if err != nil {
			return err
		}
		exporter = export.NewExporter(sink, log)
		log.Str("bucket", cfg.Export.Bucket).Info("export sink ready")
	}

	// One session shared by all requests — serialize it.
	srv := server.New(session.Serialize(conn), exporter, &server.Config{
		QueryTimeout: cfg.Database.QueryTimeout.Std(),
	}, log)

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Str("addr", cfg.Server.Addr).Info("listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func connect(ctx context.Context, cfg *config.Config, log *logger.Logger) (session.Conn, error) {
	sc := cfg.Session()
	switch sc.Dialect {
	case session.DialectSQLite:
		conn, err := sqlite.Connect(ctx, sc, log)
		if err != nil {
			return nil, err
		}
		return conn, nil
	case session.DialectMySQL:
		conn, err := mysql.Connect(ctx, sc, log)
		if err != nil {
			return nil, err
		}
		return conn, nil
	case session.DialectPostgres:
		conn, err := postgres.Connect(ctx, sc, log)
		if err != nil {
			return nil, err
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("unsupported dialect %q", sc.Dialect)
	}
}
