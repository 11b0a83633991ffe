package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"portalsync/internal/app/client"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the connection settings to the config file",
	Long: `init asks for the server address and the API key, checks that the
server answers, and writes both to ~/.portalsync/config.yaml (mode 0600).
The key is read without echo.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		reader := bufio.NewReader(os.Stdin)

		fmt.Printf("Server address [%s]: ", cfg.ServerAddress)
		addr, err := reader.ReadString('\n')
		if err != nil && addr == "" {
			return fmt.Errorf("read address: %w", err)
		}
		if addr = strings.TrimSpace(addr); addr != "" {
			cfg.ServerAddress = addr
		}

		if cfg.APIKey == "" {
			fmt.Print("API key: ")
			raw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Println()
			if err != nil {
				return fmt.Errorf("read API key: %w", err)
			}
			cfg.APIKey = strings.TrimSpace(string(raw))
		}
		if cfg.APIKey == "" {
			return fmt.Errorf("API key must not be empty")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		storage, err := client.NewHTTPClient(cfg, log).Health(ctx)
		if err != nil {
			warnColor.Printf("Server check failed: %v\n", err)
		} else {
			okColor.Printf("Server is up (storage: %s)\n", storage)
		}

		path, err := cfg.Save()
		if err != nil {
			return err
		}
		fmt.Printf("Configuration written to %s\n", path)
		return nil
	},
}
