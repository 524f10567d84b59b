package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"

	"github.com/willemv/hgcache/cache"
)

var (
	loggerLevel = new(slog.LevelVar)
	logger      *slog.Logger

	levelStrings = map[string]slog.Level{
		"trace": slog.Level(-8),
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}

	flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Sources: cli.EnvVars("HGCACHE_CONFIG"),
			Value:   "/etc/hgcache/config.yaml",
			Usage:   "Absolute path to the config file.",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Sources: cli.EnvVars("LOG_LEVEL"),
			Value:   "info",
			Usage:   "Log level",
		},
		&cli.StringFlag{
			Name:    "http-bind-address",
			Sources: cli.EnvVars("HGCACHE_HTTP_BIND"),
			Value:   ":9001",
			Usage:   "The address the sync and metric endpoints bind to.",
		},
		&cli.BoolFlag{
			Name:    "watch-config",
			Sources: cli.EnvVars("HGCACHE_WATCH_CONFIG"),
			Value:   true,
			Usage:   "Watch config for changes and reload when changes detected.",
		},
	}
)

func init() {
	loggerLevel.Set(slog.LevelInfo)
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: loggerLevel,
	}))
}

func main() {
	cmd := &cli.Command{
		Name:  "hgcache",
		Usage: "hgcache keeps per node mirrors of remote mercurial repositories up to date for a build cluster.",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {

			// set log level according to argument
			if v, ok := levelStrings[strings.ToLower(c.String("log-level"))]; ok {
				loggerLevel.Set(v)
			}

			conf, err := parseConfigFile(c.String("config"))
			if err != nil {
				logger.Error("unable to parse hgcache config file", "err", err)
				os.Exit(1)
			}

			applyDefaults(conf)

			if err := validateConfig(conf); err != nil {
				logger.Error("invalid config", "err", err)
				os.Exit(1)
			}

			secret, err := readTokenSecret(conf.Defaults.TokenSecretPath)
			if err != nil {
				logger.Error("unable to read token secret", "err", err)
				os.Exit(1)
			}

			// path to resolve hg and its extensions
			hgENV := []string{fmt.Sprintf("PATH=%s", os.Getenv("PATH"))}

			runner := cache.NewHgRunner(conf.Defaults.HgExec, hgENV, logger.With("logger", "hg"))

			registry, err := cache.NewRegistry(conf.masterNode(), runner, conf.Defaults.PollTimeout, logger.With("logger", "hgcache"))
			if err != nil {
				logger.Error("could not create cache registry", "err", err)
				os.Exit(1)
			}

			cache.EnableMetrics("hgcache", prometheus.DefaultRegisterer)
			prometheus.DefaultRegisterer.MustRegister(configSuccess, configSuccessTime)

			handler := NewSyncHandler(registry, secret, logger.With("logger", "sync-handler"))

			onChange := func(newConfig *Config) bool {
				applyDefaults(newConfig)
				if err := validateConfig(newConfig); err != nil {
					logger.Error("invalid config", "err", err)
					return false
				}
				// master root and poll timeout changes need a restart
				handler.SetNodes(newConfig.workerNodes())
				cleanupOrphanedCaches(newConfig)
				return true
			}
			onChange(conf)

			go WatchConfig(ctx, c.String("config"), c.Bool("watch-config"), 10*time.Second, onChange)

			mux := http.NewServeMux()
			mux.Handle("/sync", handler)
			mux.Handle("/metrics", promhttp.Handler())
			mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
				w.Write([]byte("ok"))
			})

			go func() {
				if err := http.ListenAndServe(c.String("http-bind-address"), mux); err != nil {
					logger.Error("http server terminated", "err", err)
					os.Exit(1)
				}
			}()

			//listenForShutdown
			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop
			logger.Info("Shutting down")

			return nil
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger.Error("failed to run app", "err", err)
		os.Exit(1)
	}
}

// readTokenSecret loads the shared agent token secret, surrounding
// whitespace is stripped so the file can end with a newline
func readTokenSecret(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("token_secret_path is not set")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	secret := bytes.TrimSpace(data)
	if len(secret) == 0 {
		return nil, fmt.Errorf("token secret file '%s' is empty", path)
	}
	return secret, nil
}
