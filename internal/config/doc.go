// Package config loads and validates application configuration from
// defaults, an optional dispatch.yaml file, and DISPATCH_-prefixed
// environment variables. Environment variables take precedence over
// file values.
package config
