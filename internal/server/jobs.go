/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// expirer is the slice of the booking ledger the sweeper drives.
type expirer interface {
	ExpirePending(ctx context.Context) (int, error)
}

// newSweeper schedules pending-booking expiry on spec. The returned cron is
// not started.
func newSweeper(spec string, ledger expirer, logger zerolog.Logger) (*cron.Cron, error) {
	logger = logger.With().Str("component", "sweeper").Logger()
	c := cron.New(cron.WithLocation(time.UTC), cron.WithParser(cronParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	_, err := c.AddFunc(spec, func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Interface("panic", r).Msg("pending expiry sweep panicked")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := ledger.ExpirePending(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("pending expiry sweep failed")
			return
		}
		if n > 0 {
			logger.Info().Int("expired", n).Msg("expired stale pending bookings")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid expiry sweep schedule %q: %w", spec, err)
	}
	return c, nil
}
