package config

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"strings"

	"talk2data/internal/introspection"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) addError(field, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Hint: hint})
}

func (r *ValidationResult) addWarning(field, message, hint string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: message, Hint: hint})
}

// Validate checks the configuration and returns fatal errors and non-fatal warnings.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}
	c.Schema.validate(result)
	c.Registry.validate(result)
	c.Database.validate(result)
	c.Observability.validate(result)
	return result
}

func (s *SchemaConfig) validate(result *ValidationResult) {
	if strings.TrimSpace(s.Dir) == "" {
		result.addWarning("schema.dir", "no schema directory configured", "commands that take --schema-id will fail")
	}
	for _, id := range []struct{ field, value string }{
		{"schema.default_id", s.DefaultID},
		{"schema.default_tenant", s.DefaultTenant},
	} {
		if strings.ContainsAny(id.value, `/\`) || strings.Contains(id.value, "..") {
			result.addError(id.field, fmt.Sprintf("%q must not contain path separators or ..", id.value), "")
		}
	}
	if len(s.FactPrefixes) == 0 {
		result.addWarning("schema.fact_prefixes", "no fact prefixes configured", "only tables with role: fact will anchor join paths")
	}
	for _, prefix := range s.FactPrefixes {
		if strings.TrimSpace(prefix) == "" {
			result.addError("schema.fact_prefixes", "fact prefix cannot be empty", "an empty prefix marks every table as a fact")
		}
	}
}

func (r *RegistryConfig) validate(result *ValidationResult) {
	if r.TTL < 0 {
		result.addError("registry.ttl", "ttl cannot be negative", "use 0 to disable expiry")
	}
	if r.RefreshMinInterval < 0 {
		result.addError("registry.refresh_min_interval", "refresh_min_interval cannot be negative", "")
	}
	if r.RefreshMaxInterval < 0 {
		result.addError("registry.refresh_max_interval", "refresh_max_interval cannot be negative", "")
	}
	if r.RefreshMinInterval > 0 && r.RefreshMaxInterval > 0 && r.RefreshMaxInterval < r.RefreshMinInterval {
		result.addWarning("registry.refresh_max_interval", "refresh_max_interval is below refresh_min_interval", "the poll interval will stay at refresh_min_interval")
	}
	if r.TTL > 0 && r.RefreshMinInterval > 0 && r.TTL < r.RefreshMinInterval {
		result.addWarning("registry.ttl", "ttl is shorter than refresh_min_interval", "watched schemas expire between checks and reload on the next lookup")
	}
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	dialect, err := d.Dialect()
	if err != nil {
		result.addError("database.driver", err.Error(), "valid values are: mysql, postgres, sqlite")
		return
	}

	if d.Port < 0 || d.Port > 65535 {
		result.addError("database.port", fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port), "")
	}

	validTLSModes := map[string]bool{"": true, "skip-verify": true, "true": true, "false": true}
	if !validTLSModes[d.TLSMode] {
		result.addError("database.tls_mode", fmt.Sprintf("invalid TLS mode %q", d.TLSMode), "valid values are: skip-verify, true, false")
	}
	if dialect == introspection.DialectSQLite && d.TLSMode != "" {
		result.addWarning("database.tls_mode", "tls_mode is ignored for sqlite", "")
	}

	if d.ConnectTimeout < 0 {
		result.addError("database.connect_timeout", "connect_timeout cannot be negative", "")
	}
	if d.DSN != "" && d.DSNFile != "" {
		result.addWarning("database.dsn_file", "dsn_file is ignored because dsn is set", "")
	}

	validateGlobList(result, "database.include_tables", d.IncludeTables)
	validateGlobList(result, "database.exclude_tables", d.ExcludeTables)
}

func validateGlobList(result *ValidationResult, field string, patterns []string) {
	for _, pattern := range patterns {
		if strings.TrimSpace(pattern) == "" {
			result.addError(field, "glob pattern cannot be empty", "")
			continue
		}
		if _, err := path.Match(pattern, "probe"); err != nil {
			result.addError(field, fmt.Sprintf("invalid glob pattern %q: %v", pattern, err), "")
		}
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.addError("observability.logging.level", fmt.Sprintf("invalid log level %q", o.Logging.Level), "valid values are: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[o.Logging.Format] {
		result.addError("observability.logging.format", fmt.Sprintf("invalid log format %q", o.Logging.Format), "valid values are: json, text")
	}

	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.addError("observability.trace_sample_ratio", fmt.Sprintf("sample ratio %v is outside 0-1", o.TraceSampleRatio), "")
	}
	if o.TracingEnabled && o.TraceSampleRatio == 0 {
		result.addWarning("observability.trace_sample_ratio", "tracing is enabled but the sample ratio is 0", "no spans will be exported")
	}

	if !o.TracingEnabled && !o.Logging.ExportsEnabled {
		return
	}
	o.OTLP.validate("observability.otlp", result)
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.addError(prefix+".protocol", fmt.Sprintf("invalid OTLP protocol %q", o.Protocol), "valid values are: grpc, http/protobuf")
	}

	if o.Protocol == "http/protobuf" && !validOTLPEndpoint(o.Endpoint) {
		result.addError(prefix+".endpoint", fmt.Sprintf("invalid OTLP endpoint %q for http/protobuf", o.Endpoint), "use host:port or a full URL")
	}

	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.addError(prefix+".compression", fmt.Sprintf("invalid OTLP compression %q", o.Compression), "valid values are: none, gzip")
	}

	if o.RetryMaxAttempts < 0 {
		result.addError(prefix+".retry_max_attempts", "retry_max_attempts cannot be negative", "")
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}
