package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	goRegistry "github.com/MrEthical07/goRegistry"
	"github.com/MrEthical07/goRegistry/internal/httpapi"
	"github.com/MrEthical07/goRegistry/metrics/export/prometheus"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

func main() {
	var (
		configPath = flag.StringP("config", "c", "", "path to a YAML config file")
		logLevel   = flag.String("log-level", "", "override logging.level")
		httpAddr   = flag.String("http-addr", "", "override http.addr")
		auditLog   = flag.Bool("audit-stdout", false, "write audit events to stdout as JSON lines")
	)
	flag.Parse()

	if err := run(*configPath, *logLevel, *httpAddr, *auditLog); err != nil {
		fmt.Fprintf(os.Stderr, "goregistryd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, logLevel, httpAddr string, auditStdout bool) error {
	cfg, err := goRegistry.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}

	logger, err := goRegistry.NewLogger(cfg.Logging, nil)
	if err != nil {
		return err
	}
	log := logrus.NewEntry(logger)

	builder := goRegistry.New().WithConfig(cfg).WithLogger(log)
	if auditStdout {
		cfg.Audit.Enabled = true
		builder = builder.WithConfig(cfg).WithAuditSink(goRegistry.NewJSONWriterSink(os.Stdout))
	}
	reg, err := builder.Build()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := reg.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := reg.Close(); err != nil {
			log.WithError(err).Warn("registry close failed")
		}
	}()

	srv := httpapi.NewServer(cfg.HTTP.Addr, reg, reg.Services(), prometheus.NewPrometheusExporter(reg).Handler(), log)
	if err := srv.Start(); err != nil {
		return err
	}

	go func() {
		if err := reg.Wait(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("store indexes could not be verified")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	return srv.Stop()
}
