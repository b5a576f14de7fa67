package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/memarena/internal/client"
	"github.com/soyeahso/memarena/internal/config"
	"github.com/soyeahso/memarena/internal/domain"
	"github.com/soyeahso/memarena/internal/version"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show memarena status and configuration summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("%s\n\n", version.Info())

			fmt.Printf("Config:  %s\n", paths.Config)
			fmt.Printf("Data:    %s\n", paths.Data)
			fmt.Printf("Pending: %s\n", paths.Pending)
			fmt.Printf("Logs:    %s\n", paths.Logs)
			fmt.Println()

			if _, err := os.Stat(paths.Config); errors.Is(err, fs.ErrNotExist) {
				fmt.Println("Config:  not found (using defaults)")
			}
			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Printf("Config:  error loading: %v\n", err)
				return nil
			}

			fmt.Printf("Server:  port=%d bind=%s\n", cfg.Server.Port, cfg.Server.Bind)
			if cfg.Store.Driver == "memory" {
				fmt.Println("Store:   memory")
			} else {
				fmt.Printf("Store:   sqlite path=%s\n", paths.Database(&cfg))
			}

			missing := map[string]bool{}
			for _, a := range config.Unconfigured(&cfg) {
				missing[a] = true
			}
			for _, a := range domain.AgentIDs() {
				state := "configured"
				if missing[string(a)] {
					state = "not configured"
				}
				fmt.Printf("Agent:   %-12s %s\n", a, state)
			}
			arenaState := cfg.Arena.BaseURL
			if arenaState == "" {
				arenaState = "(not configured)"
			}
			fmt.Printf("Arena:   %s\n", arenaState)

			// Probe the server the chat client would talk to.
			ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
			defer cancel()
			c := client.New(cfg.Client.ServerURL, cfg.Client.UserID, nil, log)
			if err := c.Ping(ctx); err != nil {
				fmt.Printf("Client:  %s unreachable (%v)\n", cfg.Client.ServerURL, err)
			} else {
				fmt.Printf("Client:  %s up\n", cfg.Client.ServerURL)
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Printf("\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Printf("  - %s\n", issue)
				}
			}

			return nil
		},
	}

	return cmd
}
