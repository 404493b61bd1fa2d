/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes events on Redis pub/sub channels named like the NATS
// subjects. It is used when Redis is configured but NATS is not.
type RedisSink struct {
	client redis.UniversalClient
}

// NewRedisSink connects to Redis.
func NewRedisSink(addr, password string, db int) *RedisSink {
	return &RedisSink{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (s *RedisSink) Send(ctx context.Context, subject string, data []byte) error {
	return s.client.Publish(ctx, subject, data).Err()
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
