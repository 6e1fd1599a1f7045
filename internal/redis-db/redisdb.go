/*
Copyright 2025 Docpipe Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package redis_db builds the Redis client backing docpipe's content
// staging, status cache, queue transport and locks. Configured DSNs may be
// bare host:port pairs, full redis:// URLs or a clustered address list.
package redis_db

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps a universal client so callers never care whether they talk to
// a standalone instance or a cluster.
type Redis struct {
	addresses []string
	client    redis.UniversalClient
}

// ParseRedisURL turns a configured Redis DSN into client options. Bare
// host:port pairs pass through untouched; redis:// URLs go through the
// driver's parser with a repair pass for password-only credentials and a
// manual fallback for DSNs the driver rejects.
func ParseRedisURL(rawURL string, skipTLSVerify bool) (*redis.Options, error) {
	if isHostPort(rawURL) {
		return &redis.Options{Addr: rawURL}, nil
	}

	opts, err := redis.ParseURL(normalizeCredentials(rawURL))
	if err != nil {
		opts = fallbackOptions(rawURL)
	}

	if skipTLSVerify && opts.TLSConfig != nil {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return opts, nil
}

// isHostPort reports whether raw is a bare host:port pair with no scheme or
// credentials, the form docker compose setups use.
func isHostPort(raw string) bool {
	return strings.Count(raw, ":") == 1 && !strings.Contains(raw, "@") && !strings.Contains(raw, "//")
}

// normalizeCredentials rewrites redis://password@host into the
// redis://:password@host form the driver's parser expects.
func normalizeCredentials(raw string) string {
	if !strings.HasPrefix(raw, "redis://") || !strings.Contains(raw, "@") {
		return raw
	}
	parts := strings.SplitN(strings.TrimPrefix(raw, "redis://"), "@", 2)
	if len(parts) == 2 && !strings.Contains(parts[0], ":") {
		return fmt.Sprintf("redis://:%s@%s", parts[0], parts[1])
	}
	return raw
}

// fallbackOptions handles DSNs the driver cannot parse, typically managed
// cache endpoints with unescaped characters in the password. Azure cache
// hosts only accept TLS connections, so those get a TLS config here.
func fallbackOptions(raw string) *redis.Options {
	host := raw
	var password string
	if parts := strings.SplitN(raw, "@", 2); len(parts) == 2 {
		password = strings.TrimPrefix(parts[0], "redis://")
		host = parts[1]
	}

	opts := &redis.Options{Addr: host, Password: password}
	if strings.Contains(host, "redis.cache.windows.net") {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// NewRedisClient connects to Redis using the provided addresses. One address
// yields a standalone client, several yield a cluster client. The connection
// is pinged before it is handed out so a misconfigured DSN fails at startup
// rather than on first use.
func NewRedisClient(addresses []string, skipTLSVerify bool) (*Redis, error) {
	if len(addresses) == 0 {
		return nil, errors.New("redis addresses list cannot be empty")
	}

	var (
		client redis.UniversalClient
		err    error
	)
	if len(addresses) == 1 {
		client, err = standaloneClient(addresses[0], skipTLSVerify)
	} else {
		client, err = clusterClient(addresses, skipTLSVerify)
	}
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, err
	}
	return &Redis{addresses: addresses, client: client}, nil
}

func standaloneClient(address string, skipTLSVerify bool) (redis.UniversalClient, error) {
	opts, err := ParseRedisURL(address, skipTLSVerify)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

// clusterClient folds the per-address options into one universal config:
// the first password seen wins, and TLS is enabled when any address wants
// it.
func clusterClient(addresses []string, skipTLSVerify bool) (redis.UniversalClient, error) {
	var (
		addrs    []string
		password string
		useTLS   bool
	)
	for _, addr := range addresses {
		opts, err := ParseRedisURL(addr, skipTLSVerify)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, opts.Addr)
		if password == "" {
			password = opts.Password
		}
		if opts.TLSConfig != nil {
			useTLS = true
		}
	}

	var tlsConfig *tls.Config
	if useTLS {
		tlsConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: skipTLSVerify,
		}
	}
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:     addrs,
		Password:  password,
		TLSConfig: tlsConfig,
	}), nil
}

// Client returns the underlying universal client.
func (r *Redis) Client() redis.UniversalClient {
	return r.client
}

// MakeRedisClient satisfies asynq's RedisConnOpt so the wrapper can be
// handed straight to the queue tooling.
func (r *Redis) MakeRedisClient() interface{} {
	return r.client
}
