package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/sendguard/auth"
)

func newKeyCommand(rt *runtimeState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Issue API credentials",
	}
	cmd.AddCommand(newKeyGenerateCommand(), newKeyTokenCommand(rt))
	return cmd
}

func newKeyGenerateCommand() *cobra.Command {
	var (
		id        string
		principal string
		roles     []string
		expiresIn time.Duration
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate an API key and print its config entry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if principal == "" {
				return errors.New("--principal is required")
			}
			if id == "" {
				id = principal
			}

			key, hash, err := auth.GenerateAPIKey()
			if err != nil {
				return err
			}
			entry := auth.APIKey{ID: id, Hash: hash, Principal: principal, Roles: roles}
			if expiresIn > 0 {
				entry.ExpiresAt = time.Now().Add(expiresIn).UTC().Truncate(time.Second)
			}

			out, err := yaml.Marshal([]auth.APIKey{entry})
			if err != nil {
				return fmt.Errorf("marshal key entry: %w", err)
			}
			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "# API key for %s (shown once): %s\n", principal, key)
			_, _ = fmt.Fprintln(w, "# add under auth.apiKeys:")
			_, _ = w.Write(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Key id (default: the principal)")
	cmd.Flags().StringVar(&principal, "principal", "", "Principal the key authenticates as")
	cmd.Flags().StringSliceVar(&roles, "role", []string{auth.RoleSender}, "Roles to grant (sender, viewer)")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "Key lifetime (0 = never expires)")
	return cmd
}

func newKeyTokenCommand(rt *runtimeState) *cobra.Command {
	var (
		subject string
		roles   []string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a JWT with the configured secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rt.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwtSecret is not configured")
			}

			token, err := auth.SignToken([]byte(cfg.Auth.JWTSecret), auth.TokenSpec{
				Subject:  subject,
				Roles:    roles,
				Issuer:   cfg.Auth.JWTIssuer,
				Audience: cfg.Auth.JWTAudience,
				TTL:      ttl,
			}, time.Now())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Token subject")
	cmd.Flags().StringSliceVar(&roles, "role", []string{auth.RoleSender}, "Roles to grant (sender, viewer)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}
