package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oraraka-deko/redraft/internal/profile"
)

var rootCmd = &cobra.Command{
	Use:   "redraftd",
	Short: "Writing assistant that narrates and drafts document edits",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		// Load .env from the current directory when present.
		_ = godotenv.Load()

		if cfgFile := viper.GetString("config"); cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			viper.SetConfigName("redraft")
			viper.SetConfigType("yaml")
			viper.AddConfigPath(".")
		}
		if err := viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("read config: %w", err)
			}
		}
		return nil
	},
	SilenceUsage: true,
}

func init() {
	profile.SetDefaults(viper.GetViper())

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default ./redraft.yaml)")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.String("log-format", "console", `log output, "console" or "json"`)
	flags.String("default-tier", "basic", "tier used when no premium tier is granted")
	flags.String("sqlite-dsn", "", "SQLite database for document context and history")
	flags.String("redis-addr", "", "Redis address for quota counters and the event stream")

	for _, name := range []string{"config", "log-level", "log-format", "default-tier", "sqlite-dsn", "redis-addr"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("redraft")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Provider keys are also read under their conventional names.
	bindEnv := func(key string, envs ...string) {
		if err := viper.BindEnv(append([]string{key}, envs...)...); err != nil {
			panic(err)
		}
	}
	bindEnv("openai-api-key", "REDRAFT_OPENAI_API_KEY", "OPENAI_API_KEY")
	bindEnv("google-api-key", "REDRAFT_GOOGLE_API_KEY", "GOOGLE_API_KEY", "GEMINI_API_KEY")

	rootCmd.AddCommand(serveCmd, runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
