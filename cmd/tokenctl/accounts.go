package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pulseops.app/internal/auth"
	"pulseops.app/internal/pii"
	"pulseops.app/internal/store/pg"
)

func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage clinic accounts in PostgreSQL",
	}
	cmd.AddCommand(newAccountPutCmd())
	cmd.AddCommand(newAccountStatusCmd())
	cmd.AddCommand(newAccountCheckPasswordCmd())
	return cmd
}

func openDirectory() (*pg.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Postgres.DSN == "" {
		return nil, fmt.Errorf("missing DSN: set PULSEOPS_PG_DSN")
	}
	guard, err := pii.NewGuard(cfg.Security.EncryptionKey,
		pii.WithEncryption(cfg.Security.EncryptionEnabled),
	)
	if err != nil {
		return nil, err
	}
	return pg.Open(cfg.Postgres.DSN, guard)
}

func newAccountPutCmd() *cobra.Command {
	var (
		acct     auth.Account
		role     string
		status   string
		password string
	)
	cmd := &cobra.Command{
		Use:   "put",
		Short: "Create or update an account",
		Example: `  tokenctl account put --id user-demo-doctor --clinic clinic-demo \
    --phone +919876543210 --role DOCTOR --doctor doctor-demo --status ACTIVE`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			phone, err := pii.ValidateWhatsAppNumber(acct.Phone)
			if err != nil {
				return err
			}
			acct.Phone = phone
			acct.Role = auth.Role(role)
			if acct.Status, err = auth.ParseUserStatus(status); err != nil {
				return err
			}

			var hash string
			if password != "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				policy := auth.PasswordPolicy{
					MinLength:      cfg.Auth.PasswordMinLength,
					RequireUpper:   cfg.Auth.PasswordRequireUpper,
					RequireNumber:  cfg.Auth.PasswordRequireNumber,
					RequireSpecial: cfg.Auth.PasswordRequireSpecial,
				}
				if hash, err = policy.Hash(password); err != nil {
					return err
				}
			}

			store, err := openDirectory()
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Directory().PutAccount(cmd.Context(), acct, hash); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "account %s saved (%s, %s)\n", acct.UserID, acct.Role, pii.MaskPhone(acct.Phone))
			return nil
		},
	}
	cmd.Flags().StringVar(&acct.UserID, "id", "", "user id (required)")
	cmd.Flags().StringVar(&acct.ClinicID, "clinic", "", "clinic id (required)")
	cmd.Flags().StringVar(&acct.Phone, "phone", "", "WhatsApp number (required)")
	cmd.Flags().StringVar(&role, "role", "", "ADMIN or DOCTOR (required)")
	cmd.Flags().StringVar(&acct.DoctorID, "doctor", "", "doctor id, DOCTOR role only")
	cmd.Flags().StringVar(&status, "status", string(auth.StatusPending), "ACTIVE, INACTIVE, SUSPENDED or PENDING")
	cmd.Flags().StringVar(&password, "password", "", "optional password, checked against the policy")
	for _, f := range []string{"id", "clinic", "phone", "role"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newAccountStatusCmd() *cobra.Command {
	var id, status string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Change the lifecycle state of an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := auth.ParseUserStatus(status)
			if err != nil {
				return err
			}
			store, err := openDirectory()
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Directory().SetStatus(cmd.Context(), id, s)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "user id (required)")
	cmd.Flags().StringVar(&status, "status", "", "new status (required)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func newAccountCheckPasswordCmd() *cobra.Command {
	var id, password string
	cmd := &cobra.Command{
		Use:   "check-password",
		Short: "Compare a password with the stored hash of an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openDirectory()
			if err != nil {
				return err
			}
			defer store.Close()
			hash, err := store.Directory().PasswordHash(cmd.Context(), id)
			if err != nil {
				return err
			}
			if hash == "" {
				return fmt.Errorf("account %s has no password set", id)
			}
			if err := auth.VerifyPassword(hash, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "password matches for %s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "user id (required)")
	cmd.Flags().StringVar(&password, "password", "", "password to check (required)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newPasswordCmd() *cobra.Command {
	var length int
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Generate a random password that satisfies the default policy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := auth.GenerateSecurePassword(length)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), pw)
			return nil
		},
	}
	cmd.Flags().IntVar(&length, "length", 16, "password length, at least 12")
	return cmd
}
