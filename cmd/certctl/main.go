// Command certctl administers a certify deployment: schema migrations,
// roster seeding, admin tokens and one-off certificate issuance.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"certify/internal/app"
	"certify/internal/auth"
	"certify/internal/config"
	"certify/internal/issuance"
	"certify/internal/roster"
	"certify/internal/store"
)

func main() {
	if err := rootCmd(config.Load).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd(load func() config.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "certctl",
		Short:         "Administer the certificate issuance service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(migrateCmd(load), seedCmd(load), tokenCmd(load), issueCmd(load))
	return cmd
}

func migrateCmd(load func() config.App) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			driver, dsn, err := load().SQLDSN()
			if err != nil {
				return err
			}
			version, err := store.Migrate(driver, dsn)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
			return nil
		},
	}
}

func seedCmd(load func() config.App) *cobra.Command {
	var (
		file    string
		replace bool
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load attendees into the registry",
		Long: `Load attendees from a YAML roster into the attendance registry.

Without --file the two sample attendees are loaded.

Examples:
  certctl seed --file roster.yaml
  certctl seed --file roster.yaml --replace`,
		RunE: func(cmd *cobra.Command, args []string) error {
			recs := roster.Sample()
			if file != "" {
				var err error
				if recs, err = roster.LoadFile(file); err != nil {
					return err
				}
			}

			driver, dsn, err := load().SQLDSN()
			if err != nil {
				return err
			}
			db, err := store.Open(driver, dsn)
			if db == nil {
				return err
			}
			defer db.Close()
			if err != nil {
				return err
			}
			return seed(cmd, issuance.NewRepository(db.Client, db.Driver), recs, replace)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML roster to load")
	cmd.Flags().BoolVar(&replace, "replace", false, "Replace existing attendees in one transaction")
	return cmd
}

func seed(cmd *cobra.Command, r issuance.Roster, recs []issuance.AttendanceRecord, replace bool) error {
	ctx := cmd.Context()
	if replace {
		removed, inserted, err := r.ReplaceAttendees(ctx, recs)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d attendees\ninserted %d attendees\n", removed, inserted)
		return nil
	}
	n, err := r.InsertAttendees(ctx, recs)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "inserted %d attendees\n", n)
	return nil
}

func tokenCmd(load func() config.App) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := load()
			if cfg.JWTSigningKey == "" {
				return errors.New("JWT_SIGNING_KEY is not set")
			}
			if ttl == 0 {
				ttl = cfg.AdminTokenTTL
			}
			tok, err := auth.Issue(subject, auth.RoleAdmin, cfg.JWTIssuer, cfg.JWTSigningKey, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok.Value)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "admin", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to ADMIN_TOKEN_TTL)")
	return cmd
}

func issueCmd(load func() config.App) *cobra.Command {
	var (
		reg   string
		track string
		out   string
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a certificate without going through HTTP",
		Long: `Run the issuance workflow for one attendee and write the PDF to disk.

Examples:
  certctl issue --reg FE123 --track Frontend
  certctl issue --reg be987 --track Backend --out /tmp/jane.pdf`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := issuance.ParseRequest("", reg, track)
			if err != nil {
				return err
			}
			cfg := load()
			cfg.QueueBackend = "none"
			a, err := app.New(cmd.Context(), cfg, slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil)))
			if err != nil {
				return err
			}
			defer a.Close()

			cert, err := a.Service.Issue(cmd.Context(), req)
			if err != nil {
				return err
			}
			path := out
			if path == "" {
				path = cert.Filename
			}
			if dir := filepath.Dir(path); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
			if err := os.WriteFile(path, cert.PDF, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", path, len(cert.PDF))
			return nil
		},
	}
	cmd.Flags().StringVar(&reg, "reg", "", "Registration number")
	cmd.Flags().StringVar(&track, "track", string(issuance.DefaultTrack), "Frontend or Backend")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output path (defaults to the certificate filename)")
	_ = cmd.MarkFlagRequired("reg")
	return cmd
}
