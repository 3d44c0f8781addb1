package ldap

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// endpoint is a parsed directory URL.
type endpoint struct {
	Scheme string
	Host   string
	Port   int
}

// URL returns the endpoint as a dialable URL.
func (e *endpoint) URL() string {
	return fmt.Sprintf("%s://%s", e.Scheme, net.JoinHostPort(e.Host, strconv.Itoa(e.Port)))
}

// parseEndpoint parses an ldap:// or ldaps:// URL, applying the default port
// of the scheme when none is given.
func parseEndpoint(raw string) (*endpoint, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("URL cannot be empty")
	}

	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	ep := &endpoint{Scheme: strings.ToLower(u.Scheme), Host: u.Hostname()}
	switch ep.Scheme {
	case "ldap":
		ep.Port = 389
	case "ldaps":
		ep.Port = 636
	default:
		return nil, fmt.Errorf("unsupported scheme %q, must be ldap:// or ldaps://", u.Scheme)
	}

	if ep.Host == "" {
		return nil, fmt.Errorf("no hostname found in URL: %s", raw)
	}

	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid port number: %s", p)
		}
		ep.Port = port
	}

	return ep, nil
}

// resolveTLSMode reconciles the configured mode with the endpoint scheme.
func resolveTLSMode(mode TLSMode, ep *endpoint) (TLSMode, error) {
	if mode == "" {
		if ep.Scheme == "ldaps" {
			return TLSModeTLS, nil
		}
		return TLSModeNone, nil
	}

	switch {
	case mode == TLSModeTLS && ep.Scheme != "ldaps":
		return "", fmt.Errorf("TLS mode %q requires an ldaps:// URL", mode)
	case mode != TLSModeTLS && ep.Scheme == "ldaps":
		return "", fmt.Errorf("TLS mode %q cannot be used with an ldaps:// URL", mode)
	}

	return mode, nil
}

// Recognised TLS option keys.
const (
	tlsOptCACertFile         = "ca_cert_file"
	tlsOptCACert             = "ca_cert"
	tlsOptCertFile           = "cert_file"
	tlsOptKeyFile            = "key_file"
	tlsOptServerName         = "server_name"
	tlsOptInsecureSkipVerify = "insecure_skip_verify"
	tlsOptMinVersion         = "min_version"
)

// buildTLSConfig turns the opaque TLS options into a tls.Config. Every key
// must be recognised and every referenced file readable.
func buildTLSConfig(opts map[string]string, host string) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: host,
	}

	var pool *x509.CertPool
	addPEM := func(source string, pem []byte) error {
		if pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return fmt.Errorf("no certificates found in %s", source)
		}
		return nil
	}

	var certFile, keyFile string

	for key, value := range opts {
		switch key {
		case tlsOptCACertFile:
			pem, err := os.ReadFile(value)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", key, err)
			}
			if err := addPEM(value, pem); err != nil {
				return nil, err
			}
		case tlsOptCACert:
			if err := addPEM(key, []byte(value)); err != nil {
				return nil, err
			}
		case tlsOptCertFile:
			certFile = value
		case tlsOptKeyFile:
			keyFile = value
		case tlsOptServerName:
			cfg.ServerName = value
		case tlsOptInsecureSkipVerify:
			skip, err := strconv.ParseBool(value)
			if err != nil {
				return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
			}
			cfg.InsecureSkipVerify = skip
		case tlsOptMinVersion:
			switch value {
			case "1.2":
				cfg.MinVersion = tls.VersionTLS12
			case "1.3":
				cfg.MinVersion = tls.VersionTLS13
			default:
				return nil, fmt.Errorf("invalid %s value %q: must be 1.2 or 1.3", key, value)
			}
		default:
			return nil, fmt.Errorf("unknown TLS option %q", key)
		}
	}

	if pool != nil {
		cfg.RootCAs = pool
	}

	if (certFile == "") != (keyFile == "") {
		return nil, fmt.Errorf("%s and %s must be set together", tlsOptCertFile, tlsOptKeyFile)
	}
	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

// dialDirectory establishes the raw transport to the directory. With
// TLSModeTLS the handshake happens as part of the dial.
func (s *Source) dialDirectory(_ context.Context) (directoryConn, error) {
	dialer := &net.Dialer{
		Timeout: s.cfg.ConnectTimeout,
		Control: socketControl(s.cfg.MaxQueryDuration),
	}

	opts := []ldap.DialOpt{ldap.DialWithDialer(dialer)}
	if s.tlsMode == TLSModeTLS {
		opts = append(opts, ldap.DialWithTLSConfig(s.tlsConfig))
	}

	conn, err := ldap.DialURL(s.endpoint.URL(), opts...)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// connect dials and prepares a connection for binding: StartTLS when
// configured and the client-side timeout for every later request.
func (s *Source) connect(ctx context.Context) (directoryConn, error) {
	conn, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}

	if s.tlsMode == TLSModeStartTLS {
		if err := conn.StartTLS(s.tlsConfig); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	conn.SetTimeout(s.cfg.MaxQueryDuration)
	return conn, nil
}
