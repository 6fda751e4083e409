// Package config handles loading and validation of the service configuration.
// It parses the YAML configuration file, applies environment variable
// overrides for secrets, and validates every section before startup.
package config
