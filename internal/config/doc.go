// Package config loads docsyncd settings.
//
// Settings come from, in increasing precedence: built-in defaults, an
// optional YAML/JSON/TOML file, DOCSYNC_* environment variables and command
// line flags bound by the caller. Environment variable names are the key
// path upper-cased with dots replaced by underscores:
//
//	store.driver          DOCSYNC_STORE_DRIVER
//	store.bolt.path       DOCSYNC_STORE_BOLT_PATH
//	auth.jwt_secret       DOCSYNC_AUTH_JWT_SECRET
//
// # File Structure
//
//	server:
//	  address: ":8080"
//	  heartbeat: 30s
//	persistence:
//	  debounce: 2s
//	  max_wait: 6s
//	hydration:
//	  policy: start-empty
//	store:
//	  driver: bolt
//	  bolt:
//	    path: /var/lib/docsync/docs.db
//	log:
//	  level: info
//	  format: json
package config
