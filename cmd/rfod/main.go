// Command rfod serves files on this machine to rfo clients.
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

	_ "net/http/pprof" // anonymous import to get the pprof handler registered

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rfratto/remotefs/internal/cmdutil"
	"github.com/rfratto/remotefs/internal/rfo/grpcrfo"
	"github.com/rfratto/remotefs/internal/rfo/server"
	"google.golang.org/grpc"
)

func main() {
	cfg, err := cmdutil.DefaultServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading environment: %s\n", err)
		os.Exit(1)
	}

	var configFile string

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configFile, "config.file", "", "Optional YAML file to load configuration from. Flags override the file.")
	fs.Var(&cfg.LogLevel, "log.level", "Level to display logs at")
	fs.StringVar(&cfg.ListenAddr, "listen.addr", cfg.ListenAddr, "listen address for rfo connections")
	fs.StringVar(&cfg.GRPCListenAddr, "grpc.listen-addr", cfg.GRPCListenAddr, "listen address for rfo over gRPC. Disabled if empty")
	fs.StringVar(&cfg.HTTPListenAddr, "http.listen-addr", cfg.HTTPListenAddr, "listen address for metrics and profiling. Disabled if empty")
	fs.StringVar(&cfg.Root, "root", cfg.Root, "directory that request paths are resolved against")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "close connections that send no request for this long. 0 to disable")
	fs.IntVar(&cfg.MaxConnections, "max-connections", cfg.MaxConnections, "maximum number of connections served at once")

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %s\n", err)
		os.Exit(1)
	}
	if configFile != "" {
		if err := cmdutil.LoadServerConfig(configFile, &cfg); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		// Re-apply flags so they win over the file.
		_ = fs.Parse(os.Args[1:])
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %s\n", err)
		os.Exit(1)
	}

	var (
		stdout = log.NewSyncWriter(os.Stdout)
	)

	l := log.NewLogfmtLogger(stdout)
	l = level.NewFilter(l, cfg.LogLevel.FilterOption())
	l = log.With(l, "ts", log.DefaultTimestamp, "caller", log.DefaultCaller)

	srv, err := server.New(l, server.Options{
		ConcurrencyLimit: cfg.MaxConnections,
		IdleTimeout:      cfg.IdleTimeout,
		Root:             cfg.Root,
		Registerer:       prometheus.DefaultRegisterer,
	})
	if err != nil {
		level.Error(l).Log("msg", "failed to create server", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var group run.Group

	// Information server worker
	if cfg.HTTPListenAddr != "" {
		lis, err := cmdutil.Listen(cfg.HTTPListenAddr)
		if err != nil {
			level.Error(l).Log("msg", "failed to create listener for HTTP server", "err", err)
			os.Exit(1)
		}

		r := mux.NewRouter()
		r.Handle("/metrics", promhttp.Handler())
		r.PathPrefix("/debug/pprof").Handler(http.DefaultServeMux)
		httpSrv := http.Server{Handler: r}

		group.Add(func() error {
			err := httpSrv.Serve(lis)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}, func(_ error) {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				_ = httpSrv.Close()
			}
		})
	}

	// rfo worker
	{
		lis, err := cmdutil.Listen(cfg.ListenAddr)
		if err != nil {
			level.Error(l).Log("msg", "failed to create listener for rfo server", "err", err)
			os.Exit(1)
		}

		serveCtx, serveCancel := context.WithCancel(ctx)
		group.Add(func() error {
			return srv.Serve(serveCtx, lis)
		}, func(_ error) {
			serveCancel()
		})
	}

	// rfo over gRPC worker
	if cfg.GRPCListenAddr != "" {
		lis, err := cmdutil.Listen(cfg.GRPCListenAddr)
		if err != nil {
			level.Error(l).Log("msg", "failed to create listener for gRPC server", "err", err)
			os.Exit(1)
		}

		opts := append(grpcrfo.ServerOptions(), grpc.ChainStreamInterceptor(loggingStreamingInterceptor(l)))
		grpcSrv := grpc.NewServer(opts...)
		grpcrfo.Register(grpcSrv, grpcrfo.NewServer(l, srv))

		group.Add(func() error {
			level.Info(l).Log("msg", "serving rfo over gRPC", "addr", lis.Addr())
			return grpcSrv.Serve(lis)
		}, func(_ error) {
			// Streams stay open until their clients leave, so don't wait
			// for them.
			grpcSrv.Stop()
		})
	}

	// signal worker
	{
		sigCtx, sigCancel := context.WithCancel(ctx)

		group.Add(func() error {
			ch := make(chan os.Signal, 2)
			signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(ch)

			select {
			case <-ch:
				level.Info(l).Log("msg", "received shutdown signal")
			case <-sigCtx.Done():
			}
			return nil
		}, func(_ error) {
			sigCancel()
		})
	}

	if err := group.Run(); err != nil {
		level.Error(l).Log("msg", "error running rfod", "err", err)
		os.Exit(1)
	}
}

func loggingStreamingInterceptor(l log.Logger) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		level.Debug(l).Log("msg", "received gRPC stream", "method", info.FullMethod)
		return handler(srv, ss)
	}
}
