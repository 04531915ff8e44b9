package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/cloudpaste/cloudpaste/internal/config"
	_ "github.com/cloudpaste/cloudpaste/internal/driver/discord"
	_ "github.com/cloudpaste/cloudpaste/internal/driver/gdrive"
	_ "github.com/cloudpaste/cloudpaste/internal/driver/github"
	_ "github.com/cloudpaste/cloudpaste/internal/driver/huggingface"
	_ "github.com/cloudpaste/cloudpaste/internal/driver/local"
	_ "github.com/cloudpaste/cloudpaste/internal/driver/mirror"
	_ "github.com/cloudpaste/cloudpaste/internal/driver/onedrive"
	_ "github.com/cloudpaste/cloudpaste/internal/driver/s3"
	_ "github.com/cloudpaste/cloudpaste/internal/driver/telegram"
	_ "github.com/cloudpaste/cloudpaste/internal/driver/webdav"
	"github.com/cloudpaste/cloudpaste/pkg/logging"
)

// Version is set via -ldflags at release build time.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:     "cloudpasted",
	Short:   "CloudPaste storage gateway",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().String("config", "/etc/cloudpaste/cloudpaste.yaml", "path to the gateway's YAML configuration file")
	rootCmd.AddCommand(serveCmd, migrateCmd, indexCmd)
}

// loadConfig reads --config, falling back to NewDefault's baked-in
// defaults for any file that doesn't exist yet, then applies environment
// overrides the same way the teacher's config layer always has.
func loadConfig(cmd *cobra.Command) (*config.Configuration, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg := config.NewDefault()
	if _, err := os.Stat(path); err == nil {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func initLogging(cfg *config.Configuration) {
	level := logging.InfoLevel
	switch cfg.Global.LogLevel {
	case "DEBUG", "debug":
		level = logging.DebugLevel
	case "WARN", "warn":
		level = logging.WarnLevel
	case "ERROR", "error":
		level = logging.ErrorLevel
	}
	logging.Init(logging.Config{Level: level, JSONOutput: cfg.Monitoring.Logging.Format == "json"})
}
