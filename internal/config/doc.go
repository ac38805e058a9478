// Package config loads the hub's YAML configuration, expanding ${VAR}
// environment references and applying defaults for optional fields.
package config
