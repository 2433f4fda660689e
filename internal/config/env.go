package config

import (
	"os"
	"strconv"
	"strings"
)

// RecognizedEnvVars are the environment variables this engine reads at
// startup (§6.4). Anything else in the environment is simply ignored —
// there is no blanket "TILESERV_*" prefix scan.
var RecognizedEnvVars = []string{
	"DATABASE_URL", "DATABASE_URL_PAT", "CA_ROOT_FILE",
	"DANGER_ACCEPT_INVALID_CERTS", "DEFAULT_SRID",
	"PGSSLCERT", "PGSSLKEY", "PGSSLROOTCERT",
	"AWS_S3_FORCE_PATH_STYLE", "AWS_SKIP_CREDENTIALS", "AWS_NO_CREDENTIALS",
}

// ExpandEnv substitutes `${VAR}` and `${VAR:-default}` references in s
// using the process environment, the way martin's file_config.rs
// substitution works, layered over stdlib os.Expand (which hands us the
// full braced token, so the ":-default" split happens here).
func ExpandEnv(s string) string {
	return os.Expand(s, func(token string) string {
		name, def, hasDefault := strings.Cut(token, ":-")
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		if hasDefault {
			return def
		}
		return ""
	})
}

// ApplyEnv fills connection_string/default_srid from the recognized
// environment variables when the config file left them unset. These
// are captured once at startup; a later /reload re-runs discovery
// against the same resolved Config, not against a freshly re-read
// environment (§6.4: "recognized at startup only").
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	for i := range cfg.Postgres {
		p := &cfg.Postgres[i]
		if p.ConnectionString == "" {
			if v := getenv("DATABASE_URL"); v != "" {
				p.ConnectionString = v
			} else if v := getenv("DATABASE_URL_PAT"); v != "" {
				p.ConnectionString = v
			}
		}
		if p.DefaultSRID == 0 {
			if v := getenv("DEFAULT_SRID"); v != "" {
				if n, err := strconv.Atoi(v); err == nil {
					p.DefaultSRID = n
				}
			}
		}
	}
}
