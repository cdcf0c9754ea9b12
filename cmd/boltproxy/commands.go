package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/boltproxy/boltproxy"
	"github.com/boltproxy/boltproxy/admin"
	"github.com/boltproxy/boltproxy/internal/store"
)

var adminAddr string

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "boltproxy",
		Short: "A forwarding HTTP proxy with caching, a host denylist, and an audit log",
	}
	root.PersistentFlags().StringVar(&adminAddr, "admin", "http://localhost:2021", "admin API base URL")

	root.AddCommand(
		newRunCommand(),
		newStartCommand(),
		newStopCommand(),
		newStatusCommand(),
		newFilterCommand(),
		newCacheCommand(),
		newLogsCommand(),
	)
	return root
}

func newRunCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the admin API in the foreground; the proxy listener starts on `start`",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForeground(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	return cmd
}

func runForeground(configPath string) error {
	cfg := &boltproxy.Config{}
	if configPath != "" {
		loaded, err := boltproxy.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	} else {
		cfg.Host = boltproxy.DefaultHost
		cfg.Port = boltproxy.DefaultPort
		cfg.AdminListen = boltproxy.DefaultAdminListen
		cfg.ClientReadTimeout = boltproxy.DefaultClientReadTimeout
		cfg.UpstreamDialTimeout = boltproxy.DefaultUpstreamDialTimeout
		cfg.UpstreamReadTimeout = boltproxy.DefaultUpstreamReadTimeout
		cfg.TunnelIdleTimeout = boltproxy.DefaultTunnelIdleTimeout
		cfg.WorkerJoinTimeout = boltproxy.DefaultWorkerJoinTimeout
	}

	logger := boltproxy.Log()
	if cfg.LogFile != "" {
		fileLogger := boltproxy.NewRotatingFileLog(cfg.LogFile, 100, 5, 28)
		boltproxy.SetLog(fileLogger)
		logger = fileLogger
	}

	backends, err := buildBackends(cfg, logger)
	if err != nil {
		return err
	}

	cache := store.NewCache(backends.cache, logger)
	denylist := store.NewDenylist()
	auditLog := store.NewLog(backends.log, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DenylistFile != "" {
		if err := admin.WatchDenylistFile(ctx, cfg.DenylistFile, denylist, logger); err != nil {
			logger.Warn("denylist file watch failed", zap.String("path", cfg.DenylistFile), zap.Error(err))
		}
	}

	adminServer := admin.New(cfg, cache, denylist, auditLog, logger)

	httpServer := &http.Server{Addr: cfg.AdminListen, Handler: adminServer.Router()}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	adminServer.Shutdown(shutdownCtx)
	_ = httpServer.Shutdown(shutdownCtx)
	return nil
}

type backends struct {
	cache store.CacheBackend
	log   store.LogBackend
}

func buildBackends(cfg *boltproxy.Config, logger *zap.Logger) (*backends, error) {
	b := &backends{}
	if cfg.Persistence.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Persistence.RedisAddr})
		b.cache = store.NewRedisCacheBackend(client, 0)
	}
	if cfg.Persistence.SQLitePath != "" {
		sb, err := store.OpenSQLiteLogBackend(cfg.Persistence.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite log backend: %w", err)
		}
		b.log = sb
	}
	return b, nil
}

func newStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Tell a running admin API to start the proxy listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := admin.NewClient(adminAddr).Start()
			if err != nil {
				return err
			}
			fmt.Printf("listening on port %d\n", resp.Port)
			return nil
		},
	}
}

func newStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Tell a running admin API to stop the proxy listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			return admin.NewClient(adminAddr).Stop()
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the proxy's current status",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := admin.NewClient(adminAddr).Status()
			if err != nil {
				return err
			}
			fmt.Printf("running=%t port=%d active_workers=%d cache_size=%d denylist_size=%d\n",
				resp.Running, resp.Port, resp.ActiveWorkers, resp.CacheSize, resp.DenylistSize)
			return nil
		},
	}
}

func newFilterCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "filter",
		Short: "View or edit the host denylist",
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List denylisted hosts",
			RunE: func(cmd *cobra.Command, args []string) error {
				hosts, err := admin.NewClient(adminAddr).FilterView()
				if err != nil {
					return err
				}
				for _, h := range hosts {
					fmt.Println(h)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "add <host>",
			Short: "Add a host to the denylist",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return admin.NewClient(adminAddr).FilterAdd(args[0])
			},
		},
		&cobra.Command{
			Use:   "remove <host>",
			Short: "Remove a host from the denylist",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return admin.NewClient(adminAddr).FilterRemove(args[0])
			},
		},
	)
	return root
}

func newCacheCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "cache",
		Short: "View or clear the response cache",
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List cached URLs",
			RunE: func(cmd *cobra.Command, args []string) error {
				urls, err := admin.NewClient(adminAddr).CacheView()
				if err != nil {
					return err
				}
				for _, u := range urls {
					fmt.Println(u)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Clear the response cache",
			RunE: func(cmd *cobra.Command, args []string) error {
				return admin.NewClient(adminAddr).CacheClear()
			},
		},
	)
	return root
}

func newLogsCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "logs",
		Short: "View or clear the audit log",
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "view",
			Short: "Print the audit log as JSON",
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := admin.NewClient(adminAddr).LogsView()
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Clear the audit log",
			RunE: func(cmd *cobra.Command, args []string) error {
				return admin.NewClient(adminAddr).LogsClear()
			},
		},
	)
	return root
}
