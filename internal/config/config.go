package config

import (
	"os"
	"strings"
	"time"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type Config struct {
	Mode      Mode
	HTTPAddr  string
	PublicURL string

	DBDriver string
	DBDSN    string

	// Issuer is the OIDC issuer this deployment presents when launching
	// external 1.3 tools. Defaults to PublicURL.
	Issuer string

	// TenantID tags outbound result sourced IDs so callbacks can be routed
	// back to the right database.
	TenantID string

	SessionSecret string
	SessionTTL    time.Duration

	EnableLocalAuth bool
	EnableLTI       bool

	AdminUser     string
	AdminPassHash string // bcrypt

	CORSOrigins []string

	// LTI 1.3 Tool-side redirect (where platforms POST id_token back).
	LTIToolRedirectURI string
}

func FromEnv() Config {
	mode := Mode(os.Getenv("MODE"))
	if mode == "" {
		mode = ModeDev
	}
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	pub := os.Getenv("PUBLIC_URL")
	defRedirect := ""
	if pub != "" {
		defRedirect = strings.TrimSuffix(pub, "/") + "/lti/launch"
	}
	return Config{
		Mode:      mode,
		HTTPAddr:  addr,
		PublicURL: pub,

		DBDriver: envOr("DB_DRIVER", "sqlite"),
		DBDSN:    envOr("DB_DSN", ""),

		Issuer:   envOr("LTI_ISSUER", pub),
		TenantID: envOr("TENANT_ID", "default"),

		SessionSecret: envOr("SESSION_SECRET", "supersecret-dev-key"),
		SessionTTL:    envDuration("SESSION_TTL", 8*time.Hour),

		EnableLocalAuth: envBool("ENABLE_LOCAL_AUTH", true),
		EnableLTI:       envBool("ENABLE_LTI", true),

		AdminUser:     envOr("ADMIN_USER", "admin"),
		AdminPassHash: envOr("ADMIN_PASS_HASH", ""),

		CORSOrigins: csvOr("CORS_ORIGINS", "http://localhost:3000"),

		LTIToolRedirectURI: envOr("LTI_TOOL_REDIRECT_URI", defRedirect),
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}

func envDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
