package main

import (
	"errors"
	"os"

	"github.com/MarcoPoloResearchLab/geekmirror/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const dotEnvPath = ".env"

var (
	cfgFile string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "geekmirror",
		Short: "Incremental mirror of the geekhack IC and GB boards",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)

	rootCmd.AddCommand(newServeCommand(), newSyncCommand(), newSyncCommentsCommand())
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "SQLite path or postgres DSN")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("base-url", defaults.GetString("scrape.base_url"), "Forum base URL")
	cmd.PersistentFlags().Int("rate-limit-ms", defaults.GetInt("scrape.rate_limit_ms"), "Minimum milliseconds between requests")
	cmd.PersistentFlags().String("imgur-client-id", "", "Imgur client ID (overrides env)")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("cache.redis_address"), "Redis address for the query cache")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "scrape.base_url", "base-url")
	bindFlag(cmd, "scrape.rate_limit_ms", "rate-limit-ms")
	bindFlag(cmd, "imgur.client_id", "imgur-client-id")
	bindFlag(cmd, "cache.redis_address", "redis-address")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := config.LoadDotEnv(dotEnvPath); err != nil {
		return err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}
