package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"pulseops.app/internal/auth"
	"pulseops.app/internal/config"
	"pulseops.app/internal/pii"
	"pulseops.app/internal/store/pg"
	"pulseops.app/internal/store/redisstore"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// openRevocations returns the shared revocation store, Redis first.
func openRevocations(ctx context.Context, cfg *config.Config) (auth.RevocationStore, func() error, error) {
	if cfg.Redis.Enabled {
		rs, err := redisstore.Open(ctx, redisstore.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return rs.Revocations(), rs.Close, nil
	}
	if cfg.Postgres.DSN != "" {
		ps, err := pg.Open(cfg.Postgres.DSN, nil)
		if err != nil {
			return nil, nil, err
		}
		return ps.Revocations(), ps.Close, nil
	}
	return nil, nil, fmt.Errorf("revocation needs redis or postgres; neither is configured")
}

func tokenService(cfg *config.Config, opts ...auth.ServiceOption) (*auth.TokenService, error) {
	base := []auth.ServiceOption{
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
		auth.WithRefreshTTL(cfg.Auth.RefreshTTL),
	}
	return auth.NewTokenService(cfg.Auth.JWTSecret, append(base, opts...)...)
}

func newIssueCmd() *cobra.Command {
	var (
		seed auth.IdentitySeed
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Mint an access and refresh token pair",
		Example: `  tokenctl issue --user u-1 --clinic c-1 --phone +919876543210 --role DOCTOR --doctor d-1
  tokenctl issue --user u-9 --clinic c-1 --phone +919800000009 --role ADMIN --ttl 10m`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, err := tokenService(cfg)
			if err != nil {
				return err
			}
			seed.Role = auth.Role(role)
			ctx := cmd.Context()
			access, err := svc.IssueAccess(ctx, seed, ttl)
			if err != nil {
				return err
			}
			refresh, err := svc.IssueRefresh(ctx, seed.UserID, seed.ClinicID, 0)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"access_token":       access.Token,
				"access_expires_at":  access.ExpiresAt,
				"refresh_token":      refresh.Token,
				"refresh_expires_at": refresh.ExpiresAt,
			})
		},
	}
	cmd.Flags().StringVar(&seed.UserID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&seed.ClinicID, "clinic", "", "clinic id (required)")
	cmd.Flags().StringVar(&seed.Phone, "phone", "", "WhatsApp number (required)")
	cmd.Flags().StringVar(&role, "role", "", "ADMIN or DOCTOR (required)")
	cmd.Flags().StringVar(&seed.DoctorID, "doctor", "", "doctor id, DOCTOR role only")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "access token lifetime (default from config)")
	for _, f := range []string{"user", "clinic", "phone", "role"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newInspectCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "inspect TOKEN",
		Short: "Verify a token and print its identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, err := tokenService(cfg)
			if err != nil {
				return err
			}
			claims, err := svc.Verify(cmd.Context(), args[0], auth.TokenKind(kind))
			if err != nil {
				return err
			}
			perms := claims.Permissions()
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"jti":         claims.TokenID,
				"user_id":     claims.UserID,
				"clinic_id":   claims.ClinicID,
				"role":        claims.Role,
				"doctor_id":   claims.DoctorID,
				"phone":       pii.MaskPhone(claims.Phone),
				"scope":       claims.Scope,
				"issued_at":   claims.IssuedAt,
				"expires_at":  claims.ExpiresAt,
				"fingerprint": auth.Fingerprint(args[0]),
				"permissions": perms,
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(auth.KindAccess), "access or refresh")
	return cmd
}

func newRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke TOKEN...",
		Short: "Blacklist tokens until they expire",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, closeFn, err := openRevocations(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeFn()
			svc, err := tokenService(cfg, auth.WithRevocationStore(store))
			if err != nil {
				return err
			}
			for _, tok := range args {
				if err := svc.Revoke(cmd.Context(), tok); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", auth.Fingerprint(tok))
			}
			return nil
		},
	}
}
