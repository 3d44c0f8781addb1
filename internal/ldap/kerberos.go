package ldap

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
)

// newGSSAPIClient creates a Kerberos client from the configuration.
// Priority order: credential cache, keytab, password.
func newGSSAPIClient(cfg *Config) (ldap.GSSAPIClient, error) {
	principal, realm := kerberosPrincipal(cfg)

	krb5confPath := cfg.KerberosConfig
	if krb5confPath == "" {
		krb5confPath = "/etc/krb5.conf"
	}
	if !fileExists(krb5confPath) {
		return nil, fmt.Errorf("kerberos configuration file not found at %s", krb5confPath)
	}

	if cfg.KerberosCCache != "" && fileExists(cfg.KerberosCCache) {
		return gssapi.NewClientFromCCache(cfg.KerberosCCache, krb5confPath, krb5client.DisablePAFXFAST(true))
	}

	if cfg.KerberosKeytab != "" {
		if !fileExists(cfg.KerberosKeytab) {
			return nil, fmt.Errorf("kerberos keytab not found at %s", cfg.KerberosKeytab)
		}
		return gssapi.NewClientWithKeytab(principal, realm, cfg.KerberosKeytab, krb5confPath, krb5client.DisablePAFXFAST(true))
	}

	if cfg.BindSecret != "" {
		return gssapi.NewClientWithPassword(principal, realm, cfg.BindSecret, krb5confPath, krb5client.DisablePAFXFAST(true))
	}

	return nil, fmt.Errorf("no suitable credentials found for Kerberos authentication")
}

// kerberosPrincipal splits a principal@REALM bind DN when no realm is set.
func kerberosPrincipal(cfg *Config) (principal, realm string) {
	principal, realm = cfg.BindDN, cfg.KerberosRealm
	if realm == "" {
		if name, r, ok := strings.Cut(principal, "@"); ok {
			principal, realm = name, r
		}
	}
	return principal, realm
}

// validateKerberos checks that a GSSAPI bind has enough to go on.
func validateKerberos(cfg *Config) error {
	principal, realm := kerberosPrincipal(cfg)
	if principal == "" {
		return fmt.Errorf("a principal is required for gssapi bind")
	}
	if realm == "" {
		return fmt.Errorf("a Kerberos realm is required (set it or use principal@REALM)")
	}
	if cfg.KerberosCCache == "" && cfg.KerberosKeytab == "" && cfg.BindSecret == "" {
		return fmt.Errorf("gssapi bind needs a credential cache, a keytab or a password")
	}
	return nil
}

// servicePrincipal returns the directory's SPN, ldap/<host> unless overridden.
func servicePrincipal(cfg *Config, ep *endpoint) string {
	if cfg.KerberosSPN != "" {
		return cfg.KerberosSPN
	}
	return fmt.Sprintf("ldap/%s", ep.Host)
}

// gssapiBind authenticates conn with Kerberos.
func (s *Source) gssapiBind(conn directoryConn) error {
	client, err := s.newGSSAPIClient(&s.cfg)
	if err != nil {
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer func() {
		_ = client.DeleteSecContext()
	}()

	if err := conn.GSSAPIBind(client, servicePrincipal(&s.cfg, s.endpoint), ""); err != nil {
		return fmt.Errorf("GSSAPI bind failed: %w", err)
	}
	return nil
}

// fileExists checks if a file exists and is readable.
func fileExists(path string) bool {
	if path == "" {
		return false
	}
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	file.Close()
	return true
}
