// Package config loads the agentd YAML configuration, applies defaults and
// environment overrides for secrets, and validates driver selections.
package config
