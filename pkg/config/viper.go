// Package config initializes the application's configuration. It uses the
// Viper library to read settings from a config file and environment
// variables, providing a unified configuration system.
package config

import (
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/openlegis/lexarc/internal/logging"
)

// InitConfig initializes the application's configuration using Viper.
// It sets up default values, defines configuration search paths, and enables
// reading from environment variables. This function is designed to be called
// once at application startup.
func InitConfig() {
	viper.SetConfigName("config")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/lexarc/")
	viper.AddConfigPath("$HOME/.lexarc")

	const defaultUA = "Lexarc/1.0 (+https://github.com/openlegis/lexarc)"

	// Storage layer.
	viper.SetDefault("database.provider", "postgres")
	viper.SetDefault("database.postgres.dsn", "")
	viper.SetDefault("database.postgres.records_table", "laws")
	viper.SetDefault("database.postgres.watermarks_table", "source_watermarks")
	viper.SetDefault("database.postgres.max_conns", 8)

	// Downloaded document cache and dataset exports.
	viper.SetDefault("content.base_dir", "data/content")
	viper.SetDefault("export.dir", "data/export")
	viper.SetDefault("export.download_base", "https://archive.org/download")

	// Source adapters.
	viper.SetDefault("sources.user_agent", defaultUA)
	viper.SetDefault("sources.rate_limit_rps", 0.5)
	viper.SetDefault("sources.rate_limit_burst", 1)
	viper.SetDefault("sources.fetch_timeout", "30s")
	viper.SetDefault("sources.rondonia.base_url", "http://ditel.casacivil.ro.gov.br/COTEL/Livros/")
	viper.SetDefault("sources.rondonia.start_coddoc", 1)
	viper.SetDefault("sources.rondonia.max_consecutive_misses", 25)
	viper.SetDefault("sources.rondonia.headless", false)
	viper.SetDefault("sources.rondonia.headless_max_parallel", 2)
	viper.SetDefault("sources.rondonia.headless_nav_timeout", "45s")
	viper.SetDefault("sources.rondonia.headless_wait_selector", "#container-main-offer")

	// Publisher.
	viper.SetDefault("publisher.provider", "noop")
	viper.SetDefault("publisher.archive.access_key", "")
	viper.SetDefault("publisher.archive.secret_key", "")
	viper.SetDefault("publisher.archive.collection", "opensource")
	viper.SetDefault("publisher.archive.timeout", "2m")
	viper.SetDefault("publisher.gcs.bucket_name", "")

	// Publish notifications.
	viper.SetDefault("notify.provider", "noop")
	viper.SetDefault("notify.gcp.project_id", "")
	viper.SetDefault("notify.gcp.topic_id", "")

	// Pipeline pacing and timeouts.
	viper.SetDefault("pipeline.item_delay", "2s")
	viper.SetDefault("pipeline.discover_timeout", "30m")
	viper.SetDefault("pipeline.fetch_timeout", "2m")
	viper.SetDefault("pipeline.publish_timeout", "5m")

	// Read-only API server.
	viper.SetDefault("server.listen_addr", ":8080")

	viper.SetEnvPrefix("LEXARC") // e.g. LEXARC_DATABASE_POSTGRES_DSN
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logging.L.Warn("Config file not found; using defaults and environment variables.")
		} else {
			logging.L.Error("Error reading config file", zap.Error(err))
		}
	} else {
		logging.L.Info("Using config file", zap.String("path", viper.ConfigFileUsed()))
	}
}
