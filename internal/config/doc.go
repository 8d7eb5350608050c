// Package config decodes the optional bgpwatch YAML configuration file.
package config
