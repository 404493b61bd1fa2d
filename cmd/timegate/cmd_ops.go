/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/timegate/internal/auth"
	"github.com/friendsincode/timegate/internal/cache"
	"github.com/friendsincode/timegate/internal/clock"
	"github.com/friendsincode/timegate/internal/db"
	"github.com/friendsincode/timegate/internal/events"
	"github.com/friendsincode/timegate/internal/server"
)

var (
	slotsStart     string
	slotsEnd       string
	slotsIncrement int
	slotsPreset    string

	tokenUser  string
	tokenRoles []string
	tokenTTL   time.Duration
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Run publishing passes outside the server",
}

var publishDueCmd = &cobra.Command{
	Use:   "due",
	Short: "Publish every scheduled item whose target time has passed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(func(ctx context.Context, svc *server.Services) error {
			n, err := svc.Scheduler.PublishDue(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %d item(s)\n", n)
			return nil
		})
	},
}

var publishNowCmd = &cobra.Command{
	Use:   "now <item-id>",
	Short: "Publish a single item immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(func(ctx context.Context, svc *server.Services) error {
			result, err := svc.Scheduler.PublishNow(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], result)
			return nil
		})
	},
}

var slotsCmd = &cobra.Command{
	Use:   "slots",
	Short: "Manage availability slots",
}

var slotsGenerateCmd = &cobra.Command{
	Use:   "generate <date>",
	Short: "Add generated slots to a date",
	Long: `Add slots to a date, either from a start/end range or a named preset.

Examples:
  # Hourly slots from 9 to 12
  timegate slots generate 2026-02-10 --start 09:00 --end 12:00 --increment 60

  # A preset block
  timegate slots generate 2026-02-10 --preset "Afternoon (1PM-5PM)"
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(func(ctx context.Context, svc *server.Services) error {
			date := args[0]
			var err error
			if slotsPreset != "" {
				_, err = svc.Availability.AddPreset(ctx, date, slotsPreset)
			} else {
				_, err = svc.Availability.Generate(ctx, date, slotsStart, slotsEnd, slotsIncrement)
			}
			if err != nil {
				return err
			}
			list, err := svc.Availability.Get(ctx, date)
			if err != nil {
				return err
			}
			labels := make([]string, 0, len(list))
			for _, ts := range list {
				labels = append(labels, ts.Label)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", date, strings.Join(labels, ", "))
			return nil
		})
	},
}

var bookingsCmd = &cobra.Command{
	Use:   "bookings",
	Short: "Booking maintenance",
}

var bookingsExpireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Cancel pending bookings past their payment window",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(func(ctx context.Context, svc *server.Services) error {
			n, err := svc.Ledger.ExpirePending(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d booking(s)\n", n)
			return nil
		})
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an admin API token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		token, err := auth.Issue([]byte(cfg.JWTSigningKey), auth.Claims{
			UserID: tokenUser,
			Roles:  tokenRoles,
		}, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	slotsGenerateCmd.Flags().StringVar(&slotsStart, "start", "09:00", "First slot start (HH:MM)")
	slotsGenerateCmd.Flags().StringVar(&slotsEnd, "end", "17:00", "Range end, exclusive (HH:MM)")
	slotsGenerateCmd.Flags().IntVar(&slotsIncrement, "increment", 60, "Minutes between slots")
	slotsGenerateCmd.Flags().StringVar(&slotsPreset, "preset", "", "Named preset instead of a range")

	tokenCmd.Flags().StringVar(&tokenUser, "user", "admin", "Subject recorded in the token")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "role", []string{auth.RoleAdmin}, "Roles to grant")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")

	publishCmd.AddCommand(publishDueCmd, publishNowCmd)
	slotsCmd.AddCommand(slotsGenerateCmd)
	bookingsCmd.AddCommand(bookingsExpireCmd)
	rootCmd.AddCommand(publishCmd, slotsCmd, bookingsCmd, tokenCmd)
}

// withServices opens the database, wires the domain components and runs fn.
// Events raised during a one-shot command stay in process.
func withServices(fn func(ctx context.Context, svc *server.Services) error) error {
	if err := loadConfig(); err != nil {
		return err
	}
	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() { _ = db.Close(database) }()
	if err := db.Migrate(database); err != nil {
		return err
	}

	// Writes made here must still invalidate what a running server cached.
	entityCache := cache.Disabled(logger)
	if cfg.CacheEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = cfg.RedisAddr
		cacheCfg.RedisPassword = cfg.RedisPassword
		cacheCfg.RedisDB = cfg.RedisDB
		if c, err := cache.New(cacheCfg, logger); err == nil {
			entityCache = c
		}
	}
	defer func() { _ = entityCache.Close() }()

	svc, err := server.BuildServices(database, cfg, server.ServiceDeps{
		Clock: clock.System{},
		Bus:   events.NewBus(),
		Cache: entityCache,
	}, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	return fn(ctx, svc)
}
