package main

import (
	"log/slog"

	"github.com/openmeet/meet-relay/internal/config"
	"github.com/openmeet/meet-relay/internal/httpserver"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && len(cfg.AllowedOrigins) == 0 {
		logger.Warn("startup security warning: ALLOWED_ORIGINS is empty while --mode=prod (browsers on other hosts cannot connect; set the deployed origin explicitly)",
			"warning_code", "allowed_origins_empty_in_prod",
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && !config.HasTURN(cfg.ICEServers) {
		logger.Warn("startup security warning: no TURN server configured while --mode=prod (clients behind symmetric NAT will fail to connect)",
			"warning_code", "no_turn_in_prod",
			"ice_servers", len(cfg.ICEServers),
			"mode", cfg.Mode,
		)
	}

	if config.HasTURN(cfg.ICEServers) && cfg.TURNREST.Enabled() {
		hasStatic := false
		for _, s := range cfg.ICEServers {
			if s.Username != "" || s.Credential != nil {
				hasStatic = true
			}
		}
		if hasStatic {
			logger.Warn("startup security warning: static TURN credentials configured alongside TURN REST (static values are replaced per request)",
				"warning_code", "static_turn_credentials_shadowed",
				"mode", cfg.Mode,
			)
		}
	}

	if cfg.StaticDir != "" && !httpserver.StaticDirExists(cfg.StaticDir) {
		logger.Warn("startup warning: static asset directory does not exist; / will serve 404s",
			"warning_code", "static_dir_missing",
			"static_dir", cfg.StaticDir,
			"mode", cfg.Mode,
		)
	}
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}
