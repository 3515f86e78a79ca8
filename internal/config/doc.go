// Package config handles configuration loading for centinai-gateway.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CENTINAI_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/centinai/gateway.yaml
//  3. ~/.config/centinai/gateway.yaml
//
// Files ending in .toml are read as TOML; anything else as YAML. Both use the
// same keys.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${CENTINAI_JWT_SECRET}"
//
// Unset variables expand to the empty string. CENTINAI_DB_PATH, when set,
// replaces database.path.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"      # webhooks, read API, health
//
//	database:
//	  path: "/var/lib/centinai/gateway.db"
//
//	auth:
//	  jwt_secret: "${CENTINAI_JWT_SECRET}"   # enables /api; at least 32 bytes
//
//	conversations:
//	  timeout: "120m"                # idle time before a conversation expires
//	  sweep_schedule: "@every 5m"    # cron spec for the reaper
//
//	analyzer:
//	  url: "http://analyzer:8000"    # exported batches are POSTed to <url>/analyze
//	  timeout: "120s"
//
//	export:
//	  dir: "/var/lib/centinai/exports"   # also write each batch as a JSON file
//
//	webhook:
//	  max_body_bytes: 1048576
//	  dedupe_window: "0s"            # >0 acknowledges repeated deliveries without storing them
//
//	agents:
//	  max_per_account: 3
//
//	tailscale:
//	  enabled: false
//	  hostname: "centinai-gateway"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true
//	  funnel: false                  # providers must reach /webhook from the internet
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Durations use time.ParseDuration syntax. Omitted values take the Default*
// constants.
package config
