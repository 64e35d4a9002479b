package config

import (
	"fmt"
	"strings"
)

// Config is the content of the miller.yaml configuration file. Every field
// is optional; command line flags override the file.
type Config struct {
	// Project is the Google Cloud project holding the artifacts. If empty,
	// it is discovered from the environment.
	Project string `yaml:"project,omitempty" validate:"omitempty,gcpproject"`

	// GSLocation is the multiregion of the container registry, e.g. "us".
	// The registry host is "<gs_location>.gcr.io" unless registry.host is
	// set. Any DNS label is accepted.
	GSLocation string `yaml:"gs_location,omitempty" validate:"omitempty,dnslabel"`

	// GSSoftware is the software bucket holding tarballs, with or without
	// the gs:// prefix.
	GSSoftware string `yaml:"gs_software,omitempty" validate:"omitempty,gsbucket"`

	// Root is the installation root. The standard Millfiles are
	// <root>/lib/build/Millfile and <root>/etc/build/Millfile.
	Root string `yaml:"root,omitempty" validate:"omitempty,dir"`

	// Tarballs configures the tarball locator.
	Tarballs TarballConfig `yaml:"tarballs"`

	// Registry configures the image locator.
	Registry RegistryConfig `yaml:"registry"`

	// Logging configures logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures tracing.
	Tracing TracingConfig `yaml:"tracing"`

	// Metrics configures the metrics textfile.
	Metrics MetricsConfig `yaml:"metrics"`
}

// TarballConfig bounds the size of the tarball directory listing.
type TarballConfig struct {
	// WarnThreshold is the number of candidate tarballs at which a
	// warning is logged.
	WarnThreshold int `yaml:"warn_threshold" validate:"gt=0,ltfield=MaxObjects"`

	// MaxObjects is the number of candidate tarballs at which listing
	// fails.
	MaxObjects int `yaml:"max_objects" validate:"gt=0"`
}

// RegistryConfig configures the container registry client.
type RegistryConfig struct {
	// Host overrides the registry host derived from gs_location.
	Host string `yaml:"host,omitempty" validate:"omitempty,hostname_port|fqdn"`

	// Insecure uses plain HTTP. Only meant for local test registries.
	Insecure bool `yaml:"insecure,omitempty"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
	Output string `yaml:"output" validate:"required,ne=stdout"`
	Color  string `yaml:"color" validate:"oneof=auto always never"`
}

// TracingConfig configures tracing.
type TracingConfig struct {
	Exporter     string            `yaml:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint     string            `yaml:"endpoint,omitempty" validate:"required_if=Exporter otlp"`
	SamplingRate float64           `yaml:"sampling_rate" validate:"gte=0,lte=1"`
	Insecure     bool              `yaml:"insecure,omitempty"`
	Headers      map[string]string `yaml:"headers,omitempty"`
}

// MetricsConfig configures metrics.
type MetricsConfig struct {
	// Textfile is where metrics are written at exit. Empty disables metrics.
	Textfile string `yaml:"textfile,omitempty"`
}

// ValidationError describes one invalid configuration field.
type ValidationError struct {
	// Field is the YAML path of the field, e.g. "tarballs.max_objects".
	Field string

	// Message explains the problem.
	Message string
}

func (e ValidationError) String() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is returned when a configuration fails validation. It
// lists every invalid field.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.String()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}
