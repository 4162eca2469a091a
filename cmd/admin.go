package cmd

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"event-photo-backend/internal/repository"
	"event-photo-backend/internal/services"
)

const redacted = "<redacted>"

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			db, err := repository.Connect(cmd.Context(), cfg.Database.DSN(), cfg.Database.MaxConns)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := repository.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			log.Info().Str("database", cfg.Database.DBName).Msg("Migrations applied")
			return nil
		},
	}
}

func newConfigCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect eventpix configuration",
	}
	cmd.AddCommand(newConfigPrintCommand(opts))
	return cmd
}

func newConfigPrintCommand(opts *rootOptions) *cobra.Command {
	var showSecrets bool
	cmd := &cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration after defaults and env overrides",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			out := *cfg
			if !showSecrets {
				redact(&out.Database.Password)
				redact(&out.Storage.SecretKey)
				redact(&out.Storage.MemorySecret)
				redact(&out.JWT.Secret)
				redact(&out.APNs.CertPassword)
			}
			data, err := yaml.Marshal(&out)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "print secrets instead of masking them")
	return cmd
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

func newTokenCommand(opts *rootOptions) *cobra.Command {
	var (
		userID  int64
		isAdmin bool
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return fmt.Errorf("--user must be a positive user id")
			}
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cfg.JWT.Secret == "" {
				return fmt.Errorf("jwt.secret is required")
			}
			if ttl <= 0 {
				ttl = cfg.JWT.TTL
			}
			token, err := services.NewUserService(nil, cfg.JWT.Secret).GenerateJWT(userID, isAdmin, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id to embed in the token")
	cmd.Flags().BoolVar(&isAdmin, "admin", false, "mark the token as an administrator")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to jwt.ttl)")
	return cmd
}
