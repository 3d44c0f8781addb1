package ldap

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
)

func TestNewLDAPError(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantCode     uint16
		wantCategory ErrorCategory
		wantRetry    bool
		wantContains string
	}{
		{
			name:         "invalid credentials",
			err:          ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("80090308: LdapErr")),
			wantCode:     ldap.LDAPResultInvalidCredentials,
			wantCategory: ErrorCategoryAuthentication,
			wantContains: "Invalid credentials",
		},
		{
			name:         "busy",
			err:          ldap.NewError(ldap.LDAPResultBusy, errors.New("try later")),
			wantCode:     ldap.LDAPResultBusy,
			wantCategory: ErrorCategoryServer,
			wantRetry:    true,
			wantContains: "server: try later",
		},
		{
			name:         "network",
			err:          ldap.NewError(ldap.ErrorNetwork, errors.New("connection closed")),
			wantCode:     ldap.ErrorNetwork,
			wantCategory: ErrorCategoryConnection,
			wantRetry:    true,
			wantContains: "Network error",
		},
		{
			name:         "wrapped result error",
			err:          fmt.Errorf("bind: %w", ldap.NewError(ldap.LDAPResultUnavailable, errors.New("unavailable"))),
			wantCode:     ldap.LDAPResultUnavailable,
			wantCategory: ErrorCategoryServer,
			wantRetry:    true,
		},
		{
			name:         "generic",
			err:          errors.New("failed to create GSSAPI client"),
			wantCategory: ErrorCategoryAuthentication,
			wantContains: "failed to create GSSAPI client",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ldapErr := NewLDAPError("bind", tt.err)

			assert.Equal(t, tt.wantCode, ldapErr.LDAPCode)
			assert.Equal(t, tt.wantCategory, ldapErr.Category)
			assert.Equal(t, tt.wantRetry, ldapErr.IsRetryable())
			assert.ErrorIs(t, ldapErr, tt.err)
			assert.Contains(t, ldapErr.Error(), "LDAP bind failed")
			if tt.wantContains != "" {
				assert.Contains(t, ldapErr.Error(), tt.wantContains)
			}
		})
	}

	assert.Nil(t, NewLDAPError("bind", nil))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"busy", ldap.NewError(ldap.LDAPResultBusy, errors.New("busy")), true},
		{"unavailable", ldap.NewError(ldap.LDAPResultUnavailable, errors.New("unavailable")), true},
		{"server down", ldap.NewError(ldap.LDAPResultServerDown, errors.New("down")), true},
		{"time limit", ldap.NewError(ldap.LDAPResultTimeLimitExceeded, errors.New("slow")), true},
		{"connect error", ldap.NewError(ldap.LDAPResultConnectError, errors.New("refused")), true},
		{"network", ldap.NewError(ldap.ErrorNetwork, errors.New("closed")), true},
		{"invalid credentials", ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("bad")), false},
		{"result code with network text", ldap.NewError(ldap.LDAPResultInsufficientAccessRights, errors.New("connection reset")), false},
		{"net op error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}, true},
		{"broken pipe", fmt.Errorf("write: %w", syscall.EPIPE), true},
		{"eof", io.EOF, true},
		{"plain", errors.New("no suitable credentials"), false},
		{
			"starttls unknown authority",
			ldap.NewError(ldap.ErrorNetwork, fmt.Errorf("TLS handshake failed (%w)",
				&tls.CertificateVerificationError{Err: x509.UnknownAuthorityError{}})),
			false,
		},
		{
			"ldaps hostname mismatch",
			ldap.NewError(ldap.ErrorNetwork, &tls.CertificateVerificationError{Err: x509.HostnameError{Host: "dc1.example.com"}}),
			false,
		},
		{"plain server on tls port", ldap.NewError(ldap.ErrorNetwork, tls.RecordHeaderError{Msg: "first record does not look like a TLS handshake"}), false},
		{"handshake text only", ldap.NewError(ldap.ErrorNetwork, errors.New("TLS handshake failed (remote error: tls: bad certificate)")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransient(tt.err))
		})
	}
}

func TestIsServerUnavailable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"busy", ldap.NewError(ldap.LDAPResultBusy, errors.New("busy")), true},
		{"unavailable", ldap.NewError(ldap.LDAPResultUnavailable, errors.New("unavailable")), true},
		{"server down", ldap.NewError(ldap.LDAPResultServerDown, errors.New("down")), true},
		{"network", ldap.NewError(ldap.ErrorNetwork, errors.New("closed")), false},
		{"no such object", ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("missing")), false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isServerUnavailable(tt.err))
		})
	}
}

func TestGetErrorCategory(t *testing.T) {
	assert.Equal(t, ErrorCategoryUnknown, GetErrorCategory(nil))
	assert.Equal(t, ErrorCategoryNotFound, GetErrorCategory(ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("x"))))
	assert.Equal(t, ErrorCategoryValidation, GetErrorCategory(NewLDAPError("search", ldap.NewError(ldap.LDAPResultFilterError, errors.New("x")))))
	assert.Equal(t, ErrorCategoryConnection, GetErrorCategory(errors.New("dial tcp 10.0.0.1:389: connection refused")))
	assert.Equal(t, ErrorCategoryUnknown, GetErrorCategory(errors.New("something else")))
}
