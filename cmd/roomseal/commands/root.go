package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"roomseal/internal/app"
	"roomseal/internal/config"
)

var (
	home       string
	passphrase string
	serverURL  string
	member     string
	cfgPath    string
	logLevel   string

	appCtx *app.App
	logger zerolog.Logger
)

func Execute() error {
	root := &cobra.Command{
		Use:   "roomseal",
		Short: "End-to-end encrypted group chat keys and messages",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".roomseal")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}

			if cfgPath == "" {
				cfgPath = filepath.Join(home, "config.toml")
			}
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if serverURL != "" {
				cfg.ServerURL = serverURL
			}
			if member != "" {
				cfg.Member = member
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}

			lvl, err := zerolog.ParseLevel(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("bad log level %q: %w", cfg.LogLevel, err)
			}
			logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
				With().Timestamp().Logger().Level(lvl)

			appCtx, err = app.New(cmd.Context(), app.Options{
				Home:       home,
				Passphrase: passphrase,
				Config:     cfg,
				Logger:     logger,
			})
			return err
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "config dir (default ~/.roomseal)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase to protect keys")
	root.PersistentFlags().StringVar(&serverURL, "server", "", "server base URL (e.g. http://127.0.0.1:8080)")
	root.PersistentFlags().StringVar(&member, "member", "", "your member id on the server")
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default <home>/config.toml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace..error)")

	root.AddCommand(
		initCmd(), fingerprintCmd(), genkeyCmd(), requestCmd(),
		acceptCmd(), rejectCmd(), sendCmd(), decryptCmd(),
		listenCmd(), syncCmd(), resetCmd(), statusCmd(),
	)
	return root.Execute()
}

func requirePassphrase() error {
	if passphrase == "" {
		return fmt.Errorf("passphrase required (-p)")
	}
	return nil
}

func requireServer() error {
	if appCtx.Coordinator == nil {
		return fmt.Errorf("no server configured. use --server")
	}
	return nil
}
