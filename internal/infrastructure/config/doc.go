// Package config provides configuration loading for the WMS bridge.
//
// Configuration is layered: hardcoded defaults, then the YAML file, then
// WMSBRIDGE_* environment variable overrides, then validation. A single
// Config struct is passed down to the infrastructure and engine packages;
// no package reads the environment on its own.
package config
