package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/burrmill/miller/pkg/locators"
	"github.com/burrmill/miller/pkg/telemetry"
)

// Environment variables read by ApplyEnv. The lowercase gs_* names are the
// ones exported by the BurrMill shell environment.
const (
	EnvGSLocation = "gs_location"
	EnvGSSoftware = "gs_software"
	EnvRoot       = "MILLER_ROOT"
	EnvLogLevel   = "LOG_LEVEL"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Tarballs: TarballConfig{
			WarnThreshold: locators.DefaultWarnThreshold,
			MaxObjects:    locators.DefaultMaxObjects,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
			Color:  "auto",
		},
		Tracing: TracingConfig{
			Exporter:     "none",
			SamplingRate: 1.0,
			Insecure:     true,
		},
	}
}

// Load reads the configuration file at path over the defaults, applies the
// process environment, and validates the result. An empty path yields the
// defaults with the environment applied.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		defer f.Close()
		if err := cfg.decode(f); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse reads a configuration from YAML bytes over the defaults and
// validates it. The environment is not consulted.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode unmarshals YAML over c, rejecting unknown keys.
func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides configuration values from environment variables.
// lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvGSLocation); ok && v != "" {
		c.GSLocation = v
	}
	if v, ok := lookup(EnvGSSoftware); ok && v != "" {
		c.GSSoftware = v
	}
	if v, ok := lookup(EnvRoot); ok && v != "" {
		c.Root = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// projectRe matches Google Cloud project IDs, including the legacy
// domain-scoped form "example.com:project".
var projectRe = regexp.MustCompile(`^(?:[a-z0-9.-]+:)?[a-z][a-z0-9-]{4,28}[a-z0-9]$`)

// labelRe matches a single DNS label, the first part of a registry host.
var labelRe = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?$`)

// newValidator creates a validator reporting YAML field names and knowing
// the miller-specific tags.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("gsbucket", func(fl validator.FieldLevel) bool {
		_, err := locators.SanitizeBucket(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("gcpproject", func(fl validator.FieldLevel) bool {
		return projectRe.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("dnslabel", func(fl validator.FieldLevel) bool {
		return labelRe.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks the configuration and reports every invalid field.
func (c *Config) Validate() error {
	err := newValidator().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	res := make(ValidationErrors, 0, len(verrs))
	for _, fe := range verrs {
		res = append(res, ValidationError{
			Field:   fieldPath(fe.Namespace()),
			Message: describe(fe),
		})
	}
	return res
}

// fieldPath drops the struct name from a validator namespace:
// "Config.tarballs.max_objects" => "tarballs.max_objects".
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	case "gsbucket":
		return fmt.Sprintf("%q is not a valid bucket name", fe.Value())
	case "gcpproject":
		return fmt.Sprintf("%q is not a valid project ID", fe.Value())
	case "dnslabel":
		return fmt.Sprintf("%q is not a valid location, expected a DNS label such as \"us\"", fe.Value())
	case "dir":
		return fmt.Sprintf("directory %q does not exist", fe.Value())
	case "ltfield":
		return fmt.Sprintf("must be less than %s", fe.Param())
	case "ne":
		return fmt.Sprintf("must not be %s", fe.Param())
	default:
		return fmt.Sprintf("failed the '%s' check with value %v", fe.Tag(), fe.Value())
	}
}

// Telemetry converts the configuration into a telemetry configuration.
func (c *Config) Telemetry(version string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = version
	tc.Logging.Level = c.Logging.Level
	tc.Logging.Format = c.Logging.Format
	tc.Logging.Output = c.Logging.Output
	tc.Logging.Color = c.Logging.Color
	tc.Tracing.Exporter = c.Tracing.Exporter
	tc.Tracing.Endpoint = c.Tracing.Endpoint
	tc.Tracing.SamplingRate = c.Tracing.SamplingRate
	tc.Tracing.Insecure = c.Tracing.Insecure
	for k, v := range c.Tracing.Headers {
		tc.Tracing.Headers[k] = v
	}
	tc.Metrics.Enabled = c.Metrics.Textfile != ""
	tc.Metrics.TextfilePath = c.Metrics.Textfile
	return tc
}
