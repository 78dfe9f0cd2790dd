package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"journalease/internal/util"
	"journalease/pkg/domain"
	"journalease/pkg/store"
	"journalease/services/journal/internal/bootstrap"
	"journalease/services/journal/internal/config"
)

func (c *adminCLI) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			st, err := store.NewGormStore(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			defer st.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Schema is up to date")
			return nil
		},
	}
}

func (c *adminCLI) linkUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link-user",
		Short: "Create the local shadow account for an identity provider user",
		Long: `link-user creates the local account an identity provider user is
resolved to, the same way the first call to /auth/external/link does.
An existing account with that email is left unchanged.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			name, _ := cmd.Flags().GetString("name")
			subject, _ := cmd.Flags().GetString("subject")
			if subject == "" {
				subject = uuid.NewString()
			}
			deps, err := c.load()
			if err != nil {
				return err
			}
			defer deps.Close()

			user, created, err := deps.App.SyncExternalUser(cmd.Context(), domain.Principal{
				Kind:    domain.PrincipalExternal,
				Subject: subject,
				Email:   email,
			}, name)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Linked %s as user %d\n", user.Email, user.ID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "User %s already exists (id %d)\n", user.Email, user.ID)
			}
			return nil
		},
	}
	cmd.Flags().String("email", "", "account email (required)")
	cmd.Flags().String("name", "", "display name (defaults to the email's local part)")
	cmd.Flags().String("subject", "", "identity provider subject UUID")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (c *adminCLI) resyncDayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resync-day",
		Short: "Re-enable sync and re-dispatch every entry of a user's days",
		Long: `resync-day enables sync for all entries of the given user on each
--date and waits for every dispatch to finish. Entries left pending by a
crashed server are recovered this way.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetInt64("user")
			dates, _ := cmd.Flags().GetStringSlice("date")
			parallel, _ := cmd.Flags().GetInt("parallel")
			if userID <= 0 || len(dates) == 0 {
				return fmt.Errorf("--user and at least one --date are required")
			}
			deps, err := c.load()
			if err != nil {
				return err
			}
			defer deps.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			enabled := true
			var mu sync.Mutex
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(max(parallel, 1))
			for _, date := range dates {
				g.Go(func() error {
					res, err := deps.App.SetDaySync(gctx, userID, date, &enabled)
					if err != nil {
						return fmt.Errorf("%s: %w", date, err)
					}
					mu.Lock()
					fmt.Fprintf(cmd.OutOrStdout(), "%s: dispatched %d entries\n", res.Date, res.Updated)
					mu.Unlock()
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			drainCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if err := deps.App.Shutdown(drainCtx); err != nil {
				return fmt.Errorf("wait for dispatches: %w", err)
			}
			for _, date := range dates {
				entries, err := deps.App.ListEntriesByDate(context.Background(), userID, date)
				if err != nil {
					return err
				}
				for _, e := range entries {
					line := fmt.Sprintf("  entry %d (%s): %s", e.ID, e.JournalDate, e.SyncStatus)
					if e.LastSyncError != nil {
						line += " - " + *e.LastSyncError
					}
					fmt.Fprintln(cmd.OutOrStdout(), line)
				}
			}
			return nil
		},
	}
	cmd.Flags().Int64("user", 0, "user id (required)")
	cmd.Flags().StringSlice("date", nil, "journal date YYYY-MM-DD, repeatable")
	cmd.Flags().Int("parallel", 4, "days processed at once")
	return cmd
}

func (c *adminCLI) load() (*bootstrap.Deps, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	logger := util.InitLogger(cfg.LogLevel)
	return bootstrap.Build(cfg, logger)
}
