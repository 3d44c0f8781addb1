// Package config loads the usercheck configuration file.
//
// The file mirrors the hook parameters of the DHCP server integration:
//
//	cache:    { positiveResultTtl: 60s, negativeResultTtl: 10, maxSize: 1000 }
//	defaults: { positiveResultClass: registered, negativeResultClass: unregistered }
//	sourceType: ldap
//	source:
//	  url: ldaps://ldap.example.com
//	  baseDN: ou=devices,dc=example,dc=com
//	  filter: (&(objectClass=device)(macAddress=%s))
//
// Durations accept Go duration strings or integer seconds. A blank url, bindDN
// or bindPwd is filled from USERCHECK_LDAP_URL, USERCHECK_BIND_DN and
// USERCHECK_BIND_PASSWORD respectively.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/isometry/usercheck/internal/ldap"
	"github.com/isometry/usercheck/internal/registry"
)

// Environment variables consulted for blank source settings.
const (
	EnvLDAPURL      = "USERCHECK_LDAP_URL"
	EnvBindDN       = "USERCHECK_BIND_DN"
	EnvBindPassword = "USERCHECK_BIND_PASSWORD"
)

// SourceType names the kind of directory source.
type SourceType string

const (
	SourceLDAP SourceType = "ldap"
	SourceFile SourceType = "file"
)

// Config is a fully resolved configuration.
type Config struct {
	Policy     registry.CachePolicy
	Labels     registry.ClassLabels
	SourceType SourceType

	LDAP     *ldap.Config // Set when SourceType is SourceLDAP
	FilePath string       // Set when SourceType is SourceFile
}

type document struct {
	Cache      *cacheSection    `yaml:"cache"`
	Defaults   *defaultsSection `yaml:"defaults"`
	SourceType string           `yaml:"sourceType"`
	Source     *sourceSection   `yaml:"source"`
}

type cacheSection struct {
	PositiveResultTTL *Duration `yaml:"positiveResultTtl"`
	NegativeResultTTL *Duration `yaml:"negativeResultTtl"`
	MaxSize           *int      `yaml:"maxSize"`
}

type defaultsSection struct {
	PositiveResultClass string `yaml:"positiveResultClass"`
	NegativeResultClass string `yaml:"negativeResultClass"`
}

type sourceSection struct {
	// ldap
	URL                string            `yaml:"url"`
	Host               string            `yaml:"host"`
	Port               int               `yaml:"port"`
	UseStartTLS        bool              `yaml:"useStartTls"`
	BaseDN             string            `yaml:"baseDN"`
	Filter             string            `yaml:"filter"`
	BindMechanism      string            `yaml:"bindMechanism"`
	BindDN             string            `yaml:"bindDN"`
	BindPwd            string            `yaml:"bindPwd"`
	TLSMode            string            `yaml:"tlsMode"`
	TLSOptions         map[string]string `yaml:"tlsOptions"`
	ConnectTimeout     *Duration         `yaml:"connectTimeout"`
	MaxQueryTime       *Duration         `yaml:"maxQueryTime"`
	MaxQueryResultSize *int              `yaml:"maxQueryResultSize"`
	MaxBindAttempts    *int              `yaml:"maxBindAttempts"`
	RetryBackoff       *Duration         `yaml:"retryBackoff"`
	KerberosRealm      string            `yaml:"kerberosRealm"`
	KerberosKeytab     string            `yaml:"kerberosKeytab"`
	KerberosConfig     string            `yaml:"kerberosConfig"`
	KerberosCCache     string            `yaml:"kerberosCCache"`
	KerberosSPN        string            `yaml:"kerberosSPN"`

	// file
	Path string `yaml:"path"`
}

// Load reads and resolves the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &registry.ConfigurationError{Reason: "failed to read configuration file", Cause: err}
	}
	return Parse(data)
}

// Parse resolves a configuration document. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var doc document
	if err := yaml.UnmarshalWithOptions(data, &doc, yaml.DisallowUnknownField()); err != nil {
		return nil, &registry.ConfigurationError{Reason: "failed to parse configuration", Cause: err}
	}

	cfg := &Config{}

	if doc.Cache == nil {
		return nil, registry.NewConfigurationError("cache", "mandatory section is missing")
	}
	policy, err := doc.Cache.policy()
	if err != nil {
		return nil, err
	}
	cfg.Policy = policy

	if doc.Defaults == nil {
		return nil, registry.NewConfigurationError("defaults", "mandatory section is missing")
	}
	cfg.Labels = registry.ClassLabels{
		Positive: strings.TrimSpace(doc.Defaults.PositiveResultClass),
		Negative: strings.TrimSpace(doc.Defaults.NegativeResultClass),
	}
	if err := cfg.Labels.Validate(); err != nil {
		return nil, err
	}

	if doc.Source == nil {
		return nil, registry.NewConfigurationError("source", "mandatory section is missing")
	}

	switch SourceType(strings.ToLower(strings.TrimSpace(doc.SourceType))) {
	case SourceLDAP:
		cfg.SourceType = SourceLDAP
		cfg.LDAP, err = doc.Source.ldapConfig()
		if err != nil {
			return nil, err
		}
	case SourceFile:
		cfg.SourceType = SourceFile
		cfg.FilePath = strings.TrimSpace(doc.Source.Path)
		if cfg.FilePath == "" {
			return nil, registry.NewConfigurationError("path", "cannot be blank for a file source")
		}
	case "":
		return nil, registry.NewConfigurationError("sourceType", "parameter is missing")
	default:
		return nil, registry.NewConfigurationError("sourceType",
			fmt.Sprintf("invalid value %q: must be one of ldap, file", doc.SourceType))
	}

	return cfg, nil
}

func (c *cacheSection) policy() (registry.CachePolicy, error) {
	switch {
	case c.PositiveResultTTL == nil:
		return registry.CachePolicy{}, registry.NewConfigurationError("positiveResultTtl", "parameter is missing")
	case c.NegativeResultTTL == nil:
		return registry.CachePolicy{}, registry.NewConfigurationError("negativeResultTtl", "parameter is missing")
	case c.MaxSize == nil:
		return registry.CachePolicy{}, registry.NewConfigurationError("maxSize", "parameter is missing")
	}

	policy := registry.CachePolicy{
		PositiveTTL: c.PositiveResultTTL.Std(),
		NegativeTTL: c.NegativeResultTTL.Std(),
		MaxEntries:  *c.MaxSize,
	}
	return policy, policy.Validate()
}

// ldapConfig builds a directory configuration, starting from the defaults and
// overriding every setting present in the file.
func (s *sourceSection) ldapConfig() (*ldap.Config, error) {
	cfg := ldap.DefaultConfig()

	url, err := s.endpointURL()
	if err != nil {
		return nil, err
	}
	cfg.URL = url
	cfg.BaseDN = s.BaseDN
	cfg.Filter = s.Filter
	cfg.BindDN = valueOrEnv(s.BindDN, EnvBindDN)
	cfg.BindSecret = valueOrEnv(s.BindPwd, EnvBindPassword)
	cfg.TLSOptions = s.TLSOptions

	if s.BindMechanism != "" {
		switch mech := ldap.BindMechanism(strings.ToLower(strings.TrimSpace(s.BindMechanism))); mech {
		case ldap.BindSimple, ldap.BindGSSAPI:
			cfg.BindMechanism = mech
		default:
			return nil, registry.NewConfigurationError("bindMechanism",
				fmt.Sprintf("invalid value %q: must be one of simple, gssapi", s.BindMechanism))
		}
	}

	mode, err := ldap.ParseTLSMode(s.TLSMode)
	if err != nil {
		return nil, &registry.ConfigurationError{Field: "tlsMode", Cause: err}
	}
	if mode == "" && s.UseStartTLS {
		mode = ldap.TLSModeStartTLS
	}
	cfg.TLSMode = mode

	if s.ConnectTimeout != nil {
		cfg.ConnectTimeout = s.ConnectTimeout.Std()
	}
	if s.MaxQueryTime != nil {
		cfg.MaxQueryDuration = s.MaxQueryTime.Std()
	}
	if s.MaxQueryResultSize != nil {
		cfg.MaxQueryResultSize = *s.MaxQueryResultSize
	}
	if s.MaxBindAttempts != nil {
		cfg.MaxBindAttempts = *s.MaxBindAttempts
	}
	if s.RetryBackoff != nil {
		cfg.RetryBackoff = s.RetryBackoff.Std()
	}

	cfg.KerberosRealm = s.KerberosRealm
	cfg.KerberosKeytab = s.KerberosKeytab
	cfg.KerberosCCache = s.KerberosCCache
	cfg.KerberosSPN = s.KerberosSPN
	if s.KerberosConfig != "" {
		cfg.KerberosConfig = s.KerberosConfig
	}

	return cfg, nil
}

// endpointURL returns the configured url, the environment fallback, or a URL
// assembled from the legacy host and port keys, in that order.
func (s *sourceSection) endpointURL() (string, error) {
	if url := valueOrEnv(s.URL, EnvLDAPURL); url != "" {
		return url, nil
	}
	if s.Host == "" {
		return "", registry.NewConfigurationError("url", "cannot be blank")
	}

	port := s.Port
	if port == 0 {
		port = 389
	}
	if port < 1 || port > 65535 {
		return "", registry.NewConfigurationError("port", fmt.Sprintf("must be between 1 and 65535, got %d", port))
	}
	return "ldap://" + net.JoinHostPort(s.Host, strconv.Itoa(port)), nil
}

func valueOrEnv(value, envVar string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return os.Getenv(envVar)
}
