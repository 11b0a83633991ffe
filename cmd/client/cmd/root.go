package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"portalsync/internal/app/client"
	"portalsync/internal/app/client/config"
	"portalsync/internal/utils/logger"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/exp/slog"
)

var (
	cfgFile    string
	cfg        *config.Config
	log        *slog.Logger
	app        *client.App
	debug      bool
	jsonOutput bool
	serverURL  string
	apiKey     string
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed, color.Bold)
)

var rootCmd = &cobra.Command{
	Use:   "portalsync",
	Short: "portalsync - command line client for the portal sync service",
	Long: `portalsync pushes mutation and bulletin batches, pulls delta pages with
locally persisted cursors, and reconciles form submissions against the
sync service.

Connection settings come from ~/.portalsync/config.yaml (see "portalsync init"),
the environment (SERVER_ADDRESS, API_KEY, ENABLE_TLS) and the flags below.`,
	PersistentPreRunE:  setupApp,
	PersistentPostRunE: closeApp,
	SilenceUsage:       true,
	SilenceErrors:      true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		errColor.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupApp(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(viper.New(), cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if serverURL != "" {
		cfg.ServerAddress = serverURL
	}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}

	log = logger.Discard()
	if debug {
		log = logger.New(cfg.Env)
	}

	// init only writes the config file and needs no local state.
	if cmd == initCmd {
		return nil
	}

	app, err = client.New(cfg, log)
	if err != nil {
		return fmt.Errorf("init client: %w", err)
	}
	return nil
}

func closeApp(_ *cobra.Command, _ []string) error {
	if app == nil {
		return nil
	}
	return app.Close()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.portalsync/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log requests")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server address, e.g. localhost:8080")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key sent as x-api-key")

	rootCmd.AddCommand(initCmd, statusCmd, pushCmd, pullCmd, submitCmd, submissionsCmd, ackCmd, retryCmd)
}
