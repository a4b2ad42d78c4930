// Package config provides configuration loading and validation for the capture client.
// It reads a YAML file over built-in defaults, overlays .env files and TRANSLATAR_*
// environment variables, and validates every section.
package config
