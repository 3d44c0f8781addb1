package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/usercheck/internal/ldap"
	"github.com/isometry/usercheck/internal/registry"
)

const ldapDocument = `
cache:
  positiveResultTtl: 60s
  negativeResultTtl: 10
  maxSize: 1000
defaults:
  positiveResultClass: registered
  negativeResultClass: unregistered
sourceType: ldap
source:
  url: ldaps://ldap.example.com
  baseDN: ou=devices,dc=example,dc=com
  filter: (&(objectClass=device)(macAddress=%s))
  bindDN: cn=reader,dc=example,dc=com
  bindPwd: secret
  tlsMode: tls
  tlsOptions:
    ca_cert_file: /etc/ssl/ca.pem
  maxQueryTime: 5s
  maxQueryResultSize: 20
  maxBindAttempts: 3
`

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvLDAPURL, "")
	t.Setenv(EnvBindDN, "")
	t.Setenv(EnvBindPassword, "")
}

func TestParse_LDAP(t *testing.T) {
	clearEnv(t)

	cfg, err := Parse([]byte(ldapDocument))
	require.NoError(t, err)

	assert.Equal(t, registry.CachePolicy{PositiveTTL: time.Minute, NegativeTTL: 10 * time.Second, MaxEntries: 1000}, cfg.Policy)
	assert.Equal(t, registry.ClassLabels{Positive: "registered", Negative: "unregistered"}, cfg.Labels)
	assert.Equal(t, SourceLDAP, cfg.SourceType)
	assert.Empty(t, cfg.FilePath)

	require.NotNil(t, cfg.LDAP)
	assert.Equal(t, "ldaps://ldap.example.com", cfg.LDAP.URL)
	assert.Equal(t, "ou=devices,dc=example,dc=com", cfg.LDAP.BaseDN)
	assert.Equal(t, "(&(objectClass=device)(macAddress=%s))", cfg.LDAP.Filter)
	assert.Equal(t, "cn=reader,dc=example,dc=com", cfg.LDAP.BindDN)
	assert.Equal(t, "secret", cfg.LDAP.BindSecret)
	assert.Equal(t, ldap.TLSModeTLS, cfg.LDAP.TLSMode)
	assert.Equal(t, map[string]string{"ca_cert_file": "/etc/ssl/ca.pem"}, cfg.LDAP.TLSOptions)
	assert.Equal(t, 5*time.Second, cfg.LDAP.MaxQueryDuration)
	assert.Equal(t, 20, cfg.LDAP.MaxQueryResultSize)
	assert.Equal(t, 3, cfg.LDAP.MaxBindAttempts)

	// Settings absent from the file keep their defaults.
	defaults := ldap.DefaultConfig()
	assert.Equal(t, defaults.ConnectTimeout, cfg.LDAP.ConnectTimeout)
	assert.Equal(t, defaults.RetryBackoff, cfg.LDAP.RetryBackoff)
	assert.Equal(t, ldap.BindSimple, cfg.LDAP.BindMechanism)
	assert.Equal(t, "/etc/krb5.conf", cfg.LDAP.KerberosConfig)
}

func TestParse_File(t *testing.T) {
	cfg, err := Parse([]byte(`
cache: { positiveResultTtl: 30, negativeResultTtl: 0, maxSize: 5 }
defaults: { positiveResultClass: known, negativeResultClass: unknown }
sourceType: FILE
source:
  path: /var/lib/usercheck/users.jsonl
`))
	require.NoError(t, err)

	assert.Equal(t, SourceFile, cfg.SourceType)
	assert.Equal(t, "/var/lib/usercheck/users.jsonl", cfg.FilePath)
	assert.Nil(t, cfg.LDAP)
	assert.Equal(t, 30*time.Second, cfg.Policy.PositiveTTL)
	assert.Equal(t, time.Duration(0), cfg.Policy.NegativeTTL)
}

func TestParse_EnvironmentFallbacks(t *testing.T) {
	t.Setenv(EnvLDAPURL, "ldap://env.example.com")
	t.Setenv(EnvBindDN, "cn=env,dc=example,dc=com")
	t.Setenv(EnvBindPassword, "from-env")

	tests := []struct {
		name       string
		source     string
		wantURL    string
		wantDN     string
		wantSecret string
	}{
		{
			name:       "environment fills blanks",
			source:     "{ baseDN: dc=example, filter: (mac=%s) }",
			wantURL:    "ldap://env.example.com",
			wantDN:     "cn=env,dc=example,dc=com",
			wantSecret: "from-env",
		},
		{
			name:       "file values win",
			source:     "{ url: ldap://file.example.com, baseDN: dc=example, filter: (mac=%s), bindDN: cn=file, bindPwd: from-file }",
			wantURL:    "ldap://file.example.com",
			wantDN:     "cn=file",
			wantSecret: "from-file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(`
cache: { positiveResultTtl: 60, negativeResultTtl: 10, maxSize: 100 }
defaults: { positiveResultClass: a, negativeResultClass: b }
sourceType: ldap
source: ` + tt.source))
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, cfg.LDAP.URL)
			assert.Equal(t, tt.wantDN, cfg.LDAP.BindDN)
			assert.Equal(t, tt.wantSecret, cfg.LDAP.BindSecret)
		})
	}
}

func TestParse_LegacyHostKeys(t *testing.T) {
	clearEnv(t)

	cfg, err := Parse([]byte(`
cache: { positiveResultTtl: 60, negativeResultTtl: 10, maxSize: 100 }
defaults: { positiveResultClass: a, negativeResultClass: b }
sourceType: ldap
source:
  host: dc1.example.com
  port: 3389
  useStartTls: true
  baseDN: dc=example
  filter: (mac=%s)
`))
	require.NoError(t, err)
	assert.Equal(t, "ldap://dc1.example.com:3389", cfg.LDAP.URL)
	assert.Equal(t, ldap.TLSModeStartTLS, cfg.LDAP.TLSMode)
}

func TestParse_Errors(t *testing.T) {
	clearEnv(t)

	const cache = "cache: { positiveResultTtl: 60, negativeResultTtl: 10, maxSize: 100 }\n"
	const labels = "defaults: { positiveResultClass: a, negativeResultClass: b }\n"
	const source = "source: { url: ldap://h, baseDN: dc=x, filter: (m=%s) }\n"

	tests := []struct {
		name      string
		document  string
		wantField string
	}{
		{"missing cache", labels + "sourceType: ldap\n" + source, "cache"},
		{"missing defaults", cache + "sourceType: ldap\n" + source, "defaults"},
		{"missing source", cache + labels + "sourceType: ldap\n", "source"},
		{"missing source type", cache + labels + source, "sourceType"},
		{"bad source type", cache + labels + "sourceType: sql\n" + source, "sourceType"},
		{"missing ttl", "cache: { negativeResultTtl: 10, maxSize: 100 }\n" + labels + "sourceType: ldap\n" + source, "positiveResultTtl"},
		{"negative ttl", "cache: { positiveResultTtl: -5, negativeResultTtl: 10, maxSize: 100 }\n" + labels + "sourceType: ldap\n" + source, "positiveResultTtl"},
		{"zero max size", "cache: { positiveResultTtl: 60, negativeResultTtl: 10, maxSize: 0 }\n" + labels + "sourceType: ldap\n" + source, "maxSize"},
		{"blank label", cache + "defaults: { positiveResultClass: a }\n" + "sourceType: ldap\n" + source, "negativeResultClass"},
		{"blank url", cache + labels + "sourceType: ldap\nsource: { baseDN: dc=x, filter: (m=%s) }\n", "url"},
		{"bad tls mode", cache + labels + "sourceType: ldap\nsource: { url: ldap://h, tlsMode: ssl }\n", "tlsMode"},
		{"bad bind mechanism", cache + labels + "sourceType: ldap\nsource: { url: ldap://h, bindMechanism: ntlm }\n", "bindMechanism"},
		{"blank path", cache + labels + "sourceType: file\nsource: { path: ' ' }\n", "path"},
		{"bad duration", "cache: { positiveResultTtl: soon, negativeResultTtl: 10, maxSize: 100 }\n" + labels + "sourceType: ldap\n" + source, ""},
		{"unknown key", cache + labels + "sourceType: ldap\nsource: { url: ldap://h, colour: blue }\n", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.document))
			require.Error(t, err)
			assert.ErrorIs(t, err, registry.ErrConfiguration)

			var cfgErr *registry.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.wantField, cfgErr.Field)
		})
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "usercheck.yaml")
	require.NoError(t, os.WriteFile(path, []byte(ldapDocument), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, SourceLDAP, cfg.SourceType)

	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, registry.ErrConfiguration)
}

func TestDuration(t *testing.T) {
	tests := []struct {
		raw     any
		want    time.Duration
		wantErr bool
	}{
		{uint64(90), 90 * time.Second, false},
		{int64(-1), -time.Second, false},
		{1.5, 1500 * time.Millisecond, false},
		{"90", 90 * time.Second, false},
		{"1m30s", 90 * time.Second, false},
		{" 250ms ", 250 * time.Millisecond, false},
		{"soon", 0, true},
		{true, 0, true},
	}

	for _, tt := range tests {
		got, err := parseDuration(tt.raw)
		if tt.wantErr {
			assert.Error(t, err, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}
