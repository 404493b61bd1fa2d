/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package content

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/friendsincode/timegate/internal/models"
)

// Multi writes to a primary store and then to mirrors. Only the primary's
// error is returned; mirror failures are logged.
type Multi struct {
	primary Writer
	mirrors []Writer
	logger  zerolog.Logger
}

// NewMulti wraps primary with zero or more mirrors.
func NewMulti(primary Writer, logger zerolog.Logger, mirrors ...Writer) *Multi {
	return &Multi{primary: primary, mirrors: mirrors, logger: logger.With().Str("component", "content").Logger()}
}

func (m *Multi) WritePost(ctx context.Context, post *models.ContentPost) error {
	if err := m.primary.WritePost(ctx, post); err != nil {
		return err
	}
	for _, mirror := range m.mirrors {
		if err := mirror.WritePost(ctx, post); err != nil {
			m.logger.Warn().Err(err).Str("post_id", post.ID).Msg("content mirror write failed")
		}
	}
	return nil
}

func (m *Multi) WriteFlyer(ctx context.Context, flyer *models.EventFlyer) error {
	if err := m.primary.WriteFlyer(ctx, flyer); err != nil {
		return err
	}
	for _, mirror := range m.mirrors {
		if err := mirror.WriteFlyer(ctx, flyer); err != nil {
			m.logger.Warn().Err(err).Str("flyer_id", flyer.ID).Msg("content mirror write failed")
		}
	}
	return nil
}
