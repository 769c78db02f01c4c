// Package config defines the builder settings and provides helpers to load,
// validate and save them in YAML format.
//
// Validate fills in every default, so a zero Config is usable after validation.
package config
