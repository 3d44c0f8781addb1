package ldap

import (
	"fmt"
	"strings"
	"time"

	"github.com/creasty/defaults"
)

// TLSMode selects how the transport to the directory is secured.
type TLSMode string

const (
	TLSModeNone     TLSMode = "none"     // Plain transport
	TLSModeStartTLS TLSMode = "starttls" // Plain transport upgraded before bind
	TLSModeTLS      TLSMode = "tls"      // TLS from the first byte (ldaps)
)

// ParseTLSMode parses a TLS mode name. An empty string yields an empty mode,
// which is later inferred from the endpoint scheme.
func ParseTLSMode(s string) (TLSMode, error) {
	switch mode := TLSMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case "", TLSModeNone, TLSModeStartTLS, TLSModeTLS:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported TLS mode %q: must be one of none, starttls, tls", s)
	}
}

// BindMechanism selects how the source authenticates after connecting.
type BindMechanism string

const (
	BindSimple BindMechanism = "simple" // DN and secret, or anonymous when no DN is set
	BindGSSAPI BindMechanism = "gssapi" // Kerberos via GSSAPI
)

// String returns the string representation of the bind mechanism.
func (b BindMechanism) String() string {
	return string(b)
}

// Config holds the settings of a directory source.
type Config struct {
	// Connection settings
	URL            string        // ldap:// or ldaps:// endpoint
	ConnectTimeout time.Duration `default:"5s"`

	// Query settings
	BaseDN             string        // Search base
	Filter             string        // Filter template with exactly one %s slot
	MaxQueryDuration   time.Duration `default:"10s"`
	MaxQueryResultSize int           `default:"10"`

	// Authentication settings
	BindMechanism   BindMechanism `default:"simple"`
	BindDN          string        // Bind DN, or Kerberos principal for gssapi
	BindSecret      string        // Bind password
	MaxBindAttempts int           `default:"10"`
	RetryBackoff    time.Duration `default:"50ms"`

	// Kerberos settings, used with BindGSSAPI
	KerberosRealm  string // Realm, inferred from a principal@REALM BindDN when empty
	KerberosKeytab string // Keytab path, used instead of BindSecret when set
	KerberosConfig string `default:"/etc/krb5.conf"`
	KerberosCCache string // Credential cache path, preferred when present
	KerberosSPN    string // Service principal override, default ldap/<host>

	// TLS settings
	TLSMode    TLSMode           // Inferred from the URL scheme when empty
	TLSOptions map[string]string // ca_cert_file, ca_cert, cert_file, key_file, server_name, insecure_skip_verify, min_version
}

// maxRetryBackoff caps the exponential backoff between bind attempts.
const maxRetryBackoff = time.Second

// noAttributes requests that matching entries carry no attributes.
const noAttributes = "1.1"

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("ldap: invalid config defaults: %v", err))
	}
	return cfg
}
