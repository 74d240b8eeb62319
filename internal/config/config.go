// Package config provides configuration types for the appsec gateway.
//
// Configuration is file based with environment overrides. The schema covers
// the listener, the upstream targets the gateway fronts, the inspection
// engine tunables and the rule list.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/Sentinel-Gate/appsec-gate/internal/domain/blocking"
	"github.com/Sentinel-Gate/appsec-gate/internal/domain/rules"
)

// Default tunables.
const (
	DefaultHTTPAddr          = "127.0.0.1:8080"
	DefaultUpstreamTimeout   = "30s"
	DefaultArenaChunkSize    = 256
	DefaultDecisionCacheSize = 1000
	DefaultMaxDiscardBody    = 1 << 20
)

// Config is the top-level configuration of the gateway.
type Config struct {
	// Server configures the HTTP server listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Upstream configures where allowed traffic is forwarded.
	Upstream UpstreamConfig `yaml:"upstream" mapstructure:"upstream"`

	// AppSec configures request collection and block responses.
	AppSec AppSecConfig `yaml:"appsec" mapstructure:"appsec"`

	// Rules are evaluated in order. The first matching block rule wins;
	// matching monitor rules are only logged.
	Rules []RuleConfig `yaml:"rules" mapstructure:"rules" validate:"omitempty,dive"`

	// DevMode enables development features (debug logging, a demo rule).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// ReadHeaderTimeout bounds how long clients may take to send headers.
	// Defaults to "10s".
	ReadHeaderTimeout string `yaml:"read_header_timeout" mapstructure:"read_header_timeout" validate:"omitempty,duration"`

	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string `yaml:"tls_cert_file" mapstructure:"tls_cert_file" validate:"required_with=TLSKeyFile"`
	TLSKeyFile  string `yaml:"tls_key_file" mapstructure:"tls_key_file" validate:"required_with=TLSCertFile"`
}

// UpstreamConfig lists the reverse proxy targets.
type UpstreamConfig struct {
	Targets []UpstreamTarget `yaml:"targets" mapstructure:"targets" validate:"omitempty,dive"`
}

// UpstreamTarget routes a path prefix to an upstream server.
type UpstreamTarget struct {
	// Name identifies the target in logs.
	Name string `yaml:"name" mapstructure:"name"`
	// PathPrefix selects requests for this target; the longest prefix wins.
	PathPrefix string `yaml:"path_prefix" mapstructure:"path_prefix" validate:"required,startswith=/"`
	// Upstream is the base URL requests are forwarded to.
	Upstream string `yaml:"upstream" mapstructure:"upstream" validate:"required,url"`
	// StripPrefix removes PathPrefix before forwarding.
	StripPrefix bool `yaml:"strip_prefix" mapstructure:"strip_prefix"`
	// Headers are additional headers to inject into proxied requests.
	Headers map[string]string `yaml:"headers" mapstructure:"headers"`
	// Timeout bounds one upstream exchange (e.g., "30s").
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`
}

// AppSecConfig configures the inspection engine.
type AppSecConfig struct {
	// ClientIPHeader, when set, is the only header consulted for the client
	// address. Otherwise the usual forwarding headers are walked.
	ClientIPHeader string `yaml:"client_ip_header" mapstructure:"client_ip_header"`

	// Templates replaces the built-in block pages.
	Templates TemplatesConfig `yaml:"templates" mapstructure:"templates"`

	// ArenaChunkSize is the node count of each arena chunk.
	// Defaults to 256.
	ArenaChunkSize int `yaml:"arena_chunk_size" mapstructure:"arena_chunk_size" validate:"gte=0"`

	// DecisionCacheSize bounds the decision cache. 0 disables caching when
	// set explicitly; defaults to 1000.
	DecisionCacheSize int `yaml:"decision_cache_size" mapstructure:"decision_cache_size" validate:"gte=0"`

	// MaxDiscardBody caps how many request body bytes are drained before a
	// block response. Defaults to 1 MiB.
	MaxDiscardBody int64 `yaml:"max_discard_body" mapstructure:"max_discard_body" validate:"gte=0"`
}

// TemplatesConfig holds optional block template file paths.
type TemplatesConfig struct {
	HTML string `yaml:"html" mapstructure:"html" validate:"omitempty,file"`
	JSON string `yaml:"json" mapstructure:"json" validate:"omitempty,file"`
}

// RuleConfig is one inspection rule.
type RuleConfig struct {
	// Name identifies the rule in logs, metrics and block decisions.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Phase is "request" (default) or "response".
	Phase string `yaml:"phase" mapstructure:"phase" validate:"omitempty,oneof=request response"`

	// Condition is a CEL expression over data and phase.
	Condition string `yaml:"condition" mapstructure:"condition" validate:"required"`

	// Action is "block" (default) or "monitor".
	Action string `yaml:"action" mapstructure:"action" validate:"omitempty,oneof=block monitor"`

	// Block describes the block response.
	Block BlockConfig `yaml:"block" mapstructure:"block"`
}

// BlockConfig describes the response sent when a block rule matches.
type BlockConfig struct {
	// Status defaults to 403.
	Status int `yaml:"status" mapstructure:"status" validate:"omitempty,min=200,max=599"`
	// ContentType is auto (default), html, json or none.
	ContentType string `yaml:"content_type" mapstructure:"content_type" validate:"omitempty,oneof=auto html json none"`
	// Location, when set, is sent as the Location header. Requires a 3xx status.
	Location string `yaml:"location" mapstructure:"location" validate:"omitempty,uri"`
}

// SetDevDefaults applies permissive defaults for development mode.
// These defaults are applied BEFORE validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	c.Server.LogLevel = "debug"

	// A monitor-only rule so dev traffic shows rule logging.
	if len(c.Rules) == 0 {
		c.Rules = []RuleConfig{
			{
				Name:      "dev-monitor-all",
				Condition: "true",
				Action:    string(rules.ActionMonitor),
			},
		}
	}
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Server defaults: bind to localhost only.
	// Users who need network access must explicitly set http_addr: ":8080" or "0.0.0.0:8080".
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.ReadHeaderTimeout == "" {
		c.Server.ReadHeaderTimeout = "10s"
	}

	for i := range c.Upstream.Targets {
		t := &c.Upstream.Targets[i]
		if t.Timeout == "" {
			t.Timeout = DefaultUpstreamTimeout
		}
		if t.Name == "" {
			t.Name = t.PathPrefix
		}
	}

	if c.AppSec.ArenaChunkSize == 0 {
		c.AppSec.ArenaChunkSize = DefaultArenaChunkSize
	}
	// viper.IsSet distinguishes "not set" from an explicit 0 that disables the cache.
	if c.AppSec.DecisionCacheSize == 0 && !viper.IsSet("appsec.decision_cache_size") {
		c.AppSec.DecisionCacheSize = DefaultDecisionCacheSize
	}
	if c.AppSec.MaxDiscardBody == 0 {
		c.AppSec.MaxDiscardBody = DefaultMaxDiscardBody
	}

	for i := range c.Rules {
		r := &c.Rules[i]
		if r.Phase == "" {
			r.Phase = string(rules.PhaseRequest)
		}
		if r.Action == "" {
			r.Action = string(rules.ActionBlock)
		}
		if r.Block.Status == 0 {
			r.Block.Status = blocking.DefaultBlockSpec().Status
		}
		if r.Block.ContentType == "" {
			r.Block.ContentType = blocking.PolicyAuto.String()
		}
	}
}

// BuildRules converts the configured rules into domain rules.
func (c *Config) BuildRules() ([]rules.Rule, error) {
	out := make([]rules.Rule, 0, len(c.Rules))
	for i, rc := range c.Rules {
		r, err := rc.ToRule()
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// ToRule converts one rule config into a domain rule.
func (rc RuleConfig) ToRule() (rules.Rule, error) {
	phase, err := rules.ParsePhase(rc.Phase)
	if err != nil {
		return rules.Rule{}, err
	}
	action, err := rules.ParseAction(rc.Action)
	if err != nil {
		return rules.Rule{}, err
	}
	policy, err := blocking.ParseContentTypePolicy(rc.Block.ContentType)
	if err != nil {
		return rules.Rule{}, err
	}
	spec := blocking.DefaultBlockSpec()
	if rc.Block.Status != 0 {
		spec.Status = rc.Block.Status
	}
	spec.ContentType = policy
	spec.Location = rc.Block.Location

	return rules.Rule{
		Name:      rc.Name,
		Phase:     phase,
		Condition: rc.Condition,
		Action:    action,
		Block:     spec,
	}, nil
}
