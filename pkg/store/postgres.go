package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var pgxPoolNewWithConfig = pgxpool.NewWithConfig

// Pinger is anything whose liveness can be probed, typically a *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

var ErrNotReady = errors.New("dependency not ready")

// NormalizeDSN strips a driver suffix from the URL scheme so that
// "postgresql+psycopg://..." parses as "postgresql://...".
func NormalizeDSN(raw string) string {
	raw = strings.TrimSpace(raw)
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	if base, _, found := strings.Cut(scheme, "+"); found {
		scheme = base
	}
	return strings.ToLower(scheme) + "://" + rest
}

// PostgresConfig parses dsn into a pool config. No connection is opened
// until first use.
func PostgresConfig(dsn string, requireTLS bool) (*pgxpool.Config, error) {
	dsn = NormalizeDSN(dsn)
	if dsn == "" {
		return nil, errors.New("database url is empty")
	}
	if requireTLS {
		if err := validatePostgresTLS(dsn); err != nil {
			return nil, err
		}
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 4
	cfg.MinConns = 0
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = time.Minute
	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	cfg.ConnConfig.RuntimeParams["application_name"] = "ironwill-agent"
	return cfg, nil
}

// NewPostgresPool builds a lazily connecting pool. The agent only uses it to
// report readiness, so an unreachable database never blocks startup.
func NewPostgresPool(ctx context.Context, dsn string, requireTLS bool) (*pgxpool.Pool, error) {
	cfg, err := PostgresConfig(dsn, requireTLS)
	if err != nil {
		return nil, err
	}
	return pgxPoolNewWithConfig(ctx, cfg)
}

// Ready pings p within timeout. A nil pinger is always ready.
func Ready(ctx context.Context, p Pinger, timeout time.Duration) error {
	if p == nil {
		return nil
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	return nil
}

func validatePostgresTLS(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid DB_URL: %w", err)
	}
	sslmode := strings.ToLower(strings.TrimSpace(parsed.Query().Get("sslmode")))
	switch sslmode {
	case "verify-full", "verify-ca", "require":
		return nil
	case "allow", "disable", "prefer":
		return fmt.Errorf("DATABASE_REQUIRE_TLS=true but DB_URL sslmode=%q is insecure", sslmode)
	default:
		return errors.New("DATABASE_REQUIRE_TLS=true requires explicit sslmode=require|verify-ca|verify-full")
	}
}

// RequiresTLS reports whether a flag value such as DATABASE_REQUIRE_TLS is on.
func RequiresTLS(raw string) bool {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
