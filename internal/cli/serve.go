package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/memarena/internal/agent"
	"github.com/soyeahso/memarena/internal/arena"
	"github.com/soyeahso/memarena/internal/chat"
	"github.com/soyeahso/memarena/internal/config"
	"github.com/soyeahso/memarena/internal/gateway"
	"github.com/soyeahso/memarena/internal/hooks"
	"github.com/soyeahso/memarena/internal/logging"
	"github.com/soyeahso/memarena/internal/store"
)

func newServeCmd() *cobra.Command {
	var (
		port      int
		bind      string
		storeKind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the memarena HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			if bind != "" {
				cfg.Server.Bind = bind
			}
			if storeKind != "" {
				cfg.Store.Driver = storeKind
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			// The server logs with the configured style unless the flag asked
			// for a level.
			level := logLevel
			if level == "" {
				level = cfg.Logging.Level
			}
			slog := logging.NewStyled(cfg.Logging.ConsoleStyle, level)

			for _, a := range config.Unconfigured(&cfg) {
				slog.Warn().Str("agent", a).Msg("agent is not configured; its streams will report an error")
			}

			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("creating data dirs: %w", err)
			}
			st, err := openStore(&cfg, slog)
			if err != nil {
				return err
			}
			defer st.Close()

			hookMgr := hooks.NewManager(slog)
			for _, ev := range hooks.AllEvents {
				hookMgr.On(ev, "log", hooks.LogHandler(slog))
			}
			slog.Debug().Strs("events", hookMgr.Events()).Msg("hooks registered")

			arenaClient := arena.NewClient(cfg.Arena.BaseURL, nil, slog)
			var urls agent.DownloadURLs
			if arenaClient.Configured() {
				urls = arenaClient
			} else {
				slog.Warn().Msg("ARENA_API_BASE not set; attachments, uploads and profiles are unavailable")
			}
			dispatcher := agent.FromConfig(&cfg, urls, nil, slog)

			svc := chat.NewService(st, dispatcher, hookMgr, chat.FlusherConfig{
				MaxBufferBytes: cfg.Stream.FlushBytes,
				IdleTimeout:    time.Duration(cfg.Stream.FlushIdleMs) * time.Millisecond,
			}, slog)

			srv := gateway.New(cfg, slog,
				gateway.WithChat(svc),
				gateway.WithArena(arenaClient),
				gateway.WithIdentity(arena.NewIdentity(cfg.Identity.MainDomainURL, cfg.Identity.SessionCookie, nil)),
				gateway.WithHooks(hookMgr),
			)

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			err = srv.Start(ctx)
			dispatcher.Wait()
			hookMgr.Wait()
			return err
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override server port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")
	cmd.Flags().StringVar(&storeKind, "store", "", "override message store (sqlite, memory)")

	return cmd
}

// openStore opens the configured message store.
func openStore(cfg *config.Config, log *logging.Logger) (store.Store, error) {
	if cfg.Store.Driver == "memory" {
		log.Info().Msg("using in-memory message store")
		return store.NewMemoryStore(), nil
	}
	dbPath := paths.Database(cfg)
	db, err := store.Open(dbPath, log)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info().Str("path", dbPath).Msg("using SQLite message store")
	return store.NewSQLiteStore(db), nil
}
