// Package config loads the C2 server configuration.
//
// Configuration is read from a YAML file layered over DefaultConfig and
// validated with struct tags. Unknown keys are rejected. The LOG_LEVEL
// environment variable overrides telemetry.logging.level.
//
// Example file:
//
//	server:
//	  listen_address: ":8080"
//	  max_body_bytes: 2097152
//	store:
//	  driver: sqlite
//	  path: /var/lib/c2d/c2.db
//	flows:
//	  mapping_file: /etc/c2d/flows.yaml
//	  watch: true
//	telemetry:
//	  logging:
//	    level: info
//	    format: json
package config
