// Package config loads the caption service configuration from YAML, applies
// environment overrides (optionally sourced from a .env file) and validates
// every section. A Watcher reloads the file when it changes so the target
// language and AI toggle can be adjusted without a restart.
package config
