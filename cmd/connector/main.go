// Package main is the entry point for the connector runtime.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/flowkit/connector/internal/builtin"
	"github.com/flowkit/connector/internal/buildinfo"
	"github.com/flowkit/connector/internal/component"
	"github.com/flowkit/connector/internal/config"
	"github.com/flowkit/connector/internal/config/invoke"
	"github.com/flowkit/connector/internal/connector"
	"github.com/flowkit/connector/internal/trace"
)

func main() {
	configFlag := flag.String("config", "", "path to a config file (repeatable via additional positional args)")
	traceAddr := flag.String("trace-addr", "", "address to serve the trace websocket endpoint on (empty disables it)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "version":
			fmt.Println(buildinfo.String())
			for k, v := range buildinfo.BuildInfo() {
				fmt.Printf("  %-12s %s\n", k+":", v)
			}
			return
		case "serve":
			runServe(logger, *configFlag, flag.Args()[1:], *traceAddr)
			return
		default:
			runServe(logger, *configFlag, flag.Args(), *traceAddr)
			return
		}
	}

	runServe(logger, *configFlag, nil, *traceAddr)
}

// runServe loads the config at configFlag together with extraPaths (or
// the default search path if neither is given), builds and starts a
// Connector, and blocks until SIGINT/SIGTERM.
func runServe(logger *slog.Logger, configFlag string, extraPaths []string, traceAddr string) {
	logger.Info("starting connector", "version", buildinfo.Version, "commit", buildinfo.GitCommit)

	paths, err := resolveConfigPaths(configFlag, extraPaths)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	resolved, err := config.Load(paths, invoke.DefaultRegistry())
	if err != nil {
		logger.Error("failed to load config", "paths", paths, "error", err)
		os.Exit(1)
	}

	if resolved.Log.StdoutLogLevel != "" {
		level, err := config.ParseLogLevel(resolved.Log.StdoutLogLevel)
		if err != nil {
			logger.Error("invalid log.stdout_log_level", "error", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	logger.Info("config loaded", "paths", paths, "apps", len(resolved.Apps), "error_flow", resolved.ErrorFlow != nil)

	reg := component.NewRegistry()
	builtin.Register(reg)

	conn, err := connector.New(resolved, reg, logger)
	if err != nil {
		logger.Error("failed to build connector", "error", err)
		os.Exit(1)
	}

	var tee *trace.FileTee
	if resolved.Trace.EnableTrace && resolved.Trace.TraceFile != "" {
		tee, err = trace.StartFileTee(conn.Trace(), resolved.Trace.TraceFile, logger)
		if err != nil {
			logger.Error("failed to start trace file tee", "error", err)
			os.Exit(1)
		}
		logger.Info("trace file tee started", "path", resolved.Trace.TraceFile)
	}

	var traceServer *http.Server
	if traceAddr != "" {
		mux := http.NewServeMux()
		trace.RegisterRoutes(mux, conn.Trace(), logger)
		traceServer = &http.Server{Addr: traceAddr, Handler: mux}
		go func() {
			if err := traceServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("trace server failed", "error", err)
			}
		}()
		logger.Info("trace websocket endpoint listening", "addr", traceAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := conn.Start(ctx); err != nil {
		logger.Error("failed to start connector", "error", err)
		os.Exit(1)
	}
	logger.Info("connector started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	cancel()
	conn.Stop(context.Background())
	if traceServer != nil {
		_ = traceServer.Shutdown(context.Background())
	}
	if tee != nil {
		_ = tee.Stop()
	}

	logger.Info("connector stopped")
}

// resolveConfigPaths merges the -config flag and any positional paths
// into the list passed to config.Load, falling back to config.FindConfig
// when neither is given.
func resolveConfigPaths(configFlag string, extraPaths []string) ([]string, error) {
	var paths []string
	if configFlag != "" {
		paths = append(paths, configFlag)
	}
	paths = append(paths, extraPaths...)
	if len(paths) > 0 {
		return paths, nil
	}
	found, err := config.FindConfig("")
	if err != nil {
		return nil, err
	}
	return []string{found}, nil
}
