package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"pirate-rpc/config"
	"pirate-rpc/registry"
)

var (
	logLevel      string
	directory     string
	etcdEndpoints string
	redisURL      string
	listingsFile  string
)

var rootCmd = &cobra.Command{
	Use:   "pirate",
	Short: "Lazy Pirate request client and development broker",
	Long: `pirate sends requests to named services over the framed request/reply protocol,
retrying on timeouts, and runs a small broker to serve them during development.

Settings are read from PB_* environment variables (and .env / .env.local).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load(".env")
		_ = godotenv.Load(".env.local")

		var level slog.Level
		if err := level.UnmarshalText([]byte(logLevel)); err != nil {
			return fmt.Errorf("invalid --log-level %q", logLevel)
		}
		slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339,
		})))
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective client configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		fmt.Print(cfg.String())
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(brokerCmd)
	rootCmd.AddCommand(configCmd)

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&directory, "directory", "static", "service directory (static, etcd, redis)")
	rootCmd.PersistentFlags().StringVar(&etcdEndpoints, "etcd-endpoints", "127.0.0.1:2379", "comma separated etcd endpoints")
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis-url", "redis://127.0.0.1:6379/0", "redis URL")
	rootCmd.PersistentFlags().StringVar(&listingsFile, "listings", "", "YAML listings file for the static directory")
}

// directoryBackend is a directory that brokers can also register in.
type directoryBackend interface {
	registry.Registry
	registry.Registrar
}

// openDirectory builds the directory selected by --directory. The returned func releases it.
func openDirectory(ctx context.Context) (directoryBackend, func(), error) {
	switch directory {
	case "static":
		if listingsFile == "" {
			return registry.NewStaticRegistry(nil), func() {}, nil
		}
		reg, err := registry.LoadStaticFile(listingsFile)
		if err != nil {
			return nil, nil, err
		}
		return reg, func() {}, nil
	case "etcd":
		reg, err := registry.NewEtcdRegistry(strings.Split(etcdEndpoints, ","))
		if err != nil {
			return nil, nil, err
		}
		return reg, func() { reg.Close() }, nil
	case "redis":
		reg, err := registry.NewRedisRegistry(ctx, redisURL)
		if err != nil {
			return nil, nil, err
		}
		return reg, func() { reg.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown directory %q", directory)
	}
}
