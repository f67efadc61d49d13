package hardening

import (
	"fmt"
	"net/url"
	"strings"
)

const minSecretLength = 16

type Options struct {
	Service            string
	Environment        string
	StrictProdSecurity string
	SharedSecret       string
	DevelopmentSecret  string
	DatabaseURL        string
	DatabaseRequireTLS string
	CORSAllowedOrigins string
}

// ValidateProduction refuses to start a production-like deployment that still
// carries development defaults.
func ValidateProduction(o Options) error {
	if !IsProductionLikeEnv(o.Environment) {
		return nil
	}
	if !isTrue(o.StrictProdSecurity, true) {
		return nil
	}
	service := strings.TrimSpace(o.Service)
	if service == "" {
		service = "service"
	}
	secret := o.SharedSecret
	if strings.TrimSpace(secret) == "" {
		return fmt.Errorf("%s: strict production hardening requires AGENT_INTERNAL_SECRET", service)
	}
	if o.DevelopmentSecret != "" && secret == o.DevelopmentSecret {
		return fmt.Errorf("%s: strict production hardening forbids the development AGENT_INTERNAL_SECRET", service)
	}
	if len(secret) < minSecretLength {
		return fmt.Errorf("%s: AGENT_INTERNAL_SECRET must be at least %d bytes in production", service, minSecretLength)
	}
	if strings.TrimSpace(o.DatabaseURL) != "" {
		if !isTrue(o.DatabaseRequireTLS, false) {
			return fmt.Errorf("%s: strict production hardening requires DATABASE_REQUIRE_TLS=true", service)
		}
		if err := validateDatabaseTLS(o.DatabaseURL, service); err != nil {
			return err
		}
	}
	if strings.TrimSpace(o.CORSAllowedOrigins) != "" {
		if err := validateCORSOrigins(o.CORSAllowedOrigins, service); err != nil {
			return err
		}
	}
	return nil
}

func validateDatabaseTLS(raw, service string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: invalid DB_URL: %w", service, err)
	}
	switch strings.ToLower(strings.TrimSpace(parsed.Query().Get("sslmode"))) {
	case "verify-full", "verify-ca", "require":
		return nil
	default:
		return fmt.Errorf("%s: strict production hardening requires DB_URL sslmode=require|verify-ca|verify-full", service)
	}
}

func validateCORSOrigins(raw, service string) error {
	for _, origin := range strings.Split(raw, ",") {
		o := strings.TrimSpace(origin)
		if o == "" {
			continue
		}
		lower := strings.ToLower(o)
		if lower == "*" {
			return fmt.Errorf("%s: strict production hardening forbids CORS wildcard origin", service)
		}
		if strings.HasPrefix(lower, "http://localhost") || strings.HasPrefix(lower, "https://localhost") || strings.HasPrefix(lower, "http://127.0.0.1") || strings.HasPrefix(lower, "https://127.0.0.1") {
			return fmt.Errorf("%s: strict production hardening forbids localhost CORS origin %q", service, o)
		}
		if !strings.HasPrefix(lower, "https://") {
			return fmt.Errorf("%s: strict production hardening requires HTTPS CORS origin, got %q", service, o)
		}
	}
	return nil
}

func isTrue(raw string, def bool) bool {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return def
	}
	return strings.EqualFold(trimmed, "true")
}

func IsProductionLikeEnv(raw string) bool {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "prod", "production", "staging", "stage":
		return true
	default:
		return false
	}
}
