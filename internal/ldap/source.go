package ldap

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/creasty/defaults"
	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/usercheck/internal/identity"
	"github.com/isometry/usercheck/internal/registry"
)

// directoryConn is the part of *ldap.Conn the source drives.
type directoryConn interface {
	StartTLS(config *tls.Config) error
	Bind(username, password string) error
	UnauthenticatedBind(username string) error
	GSSAPIBind(client ldap.GSSAPIClient, servicePrincipal, authzid string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	SetTimeout(timeout time.Duration)
	IsClosing() bool
	Unbind() error
	Close() error
}

var _ directoryConn = (*ldap.Conn)(nil)

// Source resolves identifiers against an LDAP directory over a single
// connection. It is CLOSED until Open succeeds and returns to CLOSED on Close
// or on a failed query.
type Source struct {
	mu        sync.Mutex
	cfg       Config
	endpoint  *endpoint
	tlsMode   TLSMode
	tlsConfig *tls.Config

	conn        directoryConn
	connID      string
	connContext context.Context // logContext tagged with the connection id

	dial            func(ctx context.Context) (directoryConn, error)
	newBackOff      func() backoff.BackOff
	newGSSAPIClient func(cfg *Config) (ldap.GSSAPIClient, error)

	logContext context.Context // Context with configured subsystems for logging
}

var _ registry.DirectorySource = (*Source)(nil)

// NewSource validates cfg and returns a closed source. Invalid settings are
// reported as *registry.ConfigurationError.
func NewSource(ctx context.Context, cfg Config) (*Source, error) {
	if err := defaults.Set(&cfg); err != nil {
		return nil, &registry.ConfigurationError{Reason: "failed to apply defaults", Cause: err}
	}

	ctx = newLogContext(ctx)

	ep, err := parseEndpoint(cfg.URL)
	if err != nil {
		return nil, &registry.ConfigurationError{Field: "url", Cause: err}
	}

	if err := validateQuery(&cfg); err != nil {
		return nil, err
	}
	if err := validateBind(&cfg); err != nil {
		return nil, err
	}

	mode, err := ParseTLSMode(string(cfg.TLSMode))
	if err != nil {
		return nil, &registry.ConfigurationError{Field: "tlsMode", Cause: err}
	}
	mode, err = resolveTLSMode(mode, ep)
	if err != nil {
		return nil, &registry.ConfigurationError{Field: "tlsMode", Cause: err}
	}

	var tlsConfig *tls.Config
	if mode == TLSModeNone {
		if len(cfg.TLSOptions) > 0 {
			LogConnectionEvent(ctx, "tls_options_ignored", map[string]any{
				"tls_mode":      string(mode),
				"ignored_count": len(cfg.TLSOptions),
			})
		}
	} else {
		tlsConfig, err = buildTLSConfig(cfg.TLSOptions, ep.Host)
		if err != nil {
			return nil, &registry.ConfigurationError{Field: "tlsOptions", Cause: err}
		}
	}

	s := &Source{
		cfg:             cfg,
		endpoint:        ep,
		tlsMode:         mode,
		tlsConfig:       tlsConfig,
		newGSSAPIClient: newGSSAPIClient,
		connContext:     ctx,
		logContext:      ctx,
	}
	s.dial = s.dialDirectory
	s.newBackOff = func() backoff.BackOff {
		return newExponentialBackOff(s.cfg.RetryBackoff)
	}

	tflog.SubsystemDebug(ctx, subsystem, "LDAP source created", map[string]any{
		"url":            ep.URL(),
		"base_dn":        cfg.BaseDN,
		"tls_mode":       string(mode),
		"bind_mechanism": cfg.BindMechanism.String(),
		"bind_dn":        cfg.BindDN,
		"bind_secret":    cfg.BindSecret,
	})

	return s, nil
}

func validateQuery(cfg *Config) error {
	if strings.TrimSpace(cfg.BaseDN) == "" {
		return registry.NewConfigurationError("baseDN", "cannot be blank")
	}
	if _, err := ldap.ParseDN(cfg.BaseDN); err != nil {
		return &registry.ConfigurationError{Field: "baseDN", Reason: "invalid DN", Cause: err}
	}

	if strings.TrimSpace(cfg.Filter) == "" {
		return registry.NewConfigurationError("filter", "cannot be blank")
	}
	if n := strings.Count(cfg.Filter, "%s"); n != 1 {
		return registry.NewConfigurationError("filter", fmt.Sprintf("must contain exactly one %%s slot, found %d", n))
	}
	if _, err := ldap.CompileFilter(strings.Replace(cfg.Filter, "%s", "x", 1)); err != nil {
		return &registry.ConfigurationError{Field: "filter", Reason: "invalid filter", Cause: err}
	}

	if cfg.MaxQueryDuration <= 0 {
		return registry.NewConfigurationError("maxQueryTime", "must be positive")
	}
	if cfg.MaxQueryResultSize <= 0 {
		return registry.NewConfigurationError("maxQueryResultSize", "must be positive")
	}
	return nil
}

func validateBind(cfg *Config) error {
	if cfg.MaxBindAttempts <= 0 {
		return registry.NewConfigurationError("maxBindAttempts", "must be positive")
	}

	switch cfg.BindMechanism {
	case BindSimple:
		if cfg.BindDN != "" && cfg.BindSecret == "" {
			return registry.NewConfigurationError("bindPwd", "cannot be blank when bindDN is set")
		}
	case BindGSSAPI:
		if err := validateKerberos(cfg); err != nil {
			return &registry.ConfigurationError{Field: "bindMechanism", Cause: err}
		}
	default:
		return registry.NewConfigurationError("bindMechanism", fmt.Sprintf("unsupported mechanism %q", cfg.BindMechanism))
	}
	return nil
}

// Open dials, secures and binds a connection. Opening an open source is a
// no-op. Transient bind failures are retried up to MaxBindAttempts times,
// redialling when the connection has dropped. On failure the source stays
// closed and a *registry.ConnectionError is returned.
func (s *Source) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isOpenLocked() {
		tflog.SubsystemDebug(s.connContext, subsystem, "Connection already open")
		return nil
	}
	s.closeLocked()

	connID := uuid.NewString()
	connCtx := tflog.SubsystemSetField(s.logContext, subsystem, "connection_id", connID)
	start := time.Now()

	var conn directoryConn
	stage := "dial"
	attempts := 0

	err := retry(ctx, s.cfg.MaxBindAttempts, s.newBackOff(), isTransient,
		func(err error, wait time.Duration) {
			LogConnectionEvent(connCtx, "bind_retry", map[string]any{
				"stage":        stage,
				"attempt":      attempts,
				"max_attempts": s.cfg.MaxBindAttempts,
				"backoff_ms":   wait.Milliseconds(),
				"error":        err.Error(),
			})
		},
		func() error {
			attempts++

			if conn == nil || conn.IsClosing() {
				if conn != nil {
					_ = conn.Close()
					conn = nil
				}
				stage = "dial"
				c, err := s.connect(ctx)
				if err != nil {
					return err
				}
				conn = c
			}

			stage = "bind"
			return s.bind(conn)
		})
	if err != nil {
		if conn != nil {
			_ = conn.Close()
		}
		LogConnectionEvent(connCtx, "connection_failed", map[string]any{
			"url":         s.endpoint.URL(),
			"stage":       stage,
			"attempts":    attempts,
			"duration_ms": time.Since(start).Milliseconds(),
			"error":       err.Error(),
		})
		return registry.NewConnectionError(stage, NewLDAPError(stage, err))
	}

	s.conn = conn
	s.connID = connID
	s.connContext = connCtx

	LogConnectionEvent(connCtx, "connection_established", map[string]any{
		"url":            s.endpoint.URL(),
		"tls_mode":       string(s.tlsMode),
		"bind_mechanism": s.cfg.BindMechanism.String(),
		"attempts":       attempts,
		"duration_ms":    time.Since(start).Milliseconds(),
	})
	return nil
}

// bind authenticates conn with the configured mechanism.
func (s *Source) bind(conn directoryConn) error {
	switch s.cfg.BindMechanism {
	case BindGSSAPI:
		return s.gssapiBind(conn)
	default:
		if s.cfg.BindDN == "" {
			return conn.UnauthenticatedBind("")
		}
		return conn.Bind(s.cfg.BindDN, s.cfg.BindSecret)
	}
}

// Close unbinds and disconnects. Closing a closed source does nothing.
func (s *Source) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Source) closeLocked() {
	if s.conn == nil {
		return
	}

	if !s.conn.IsClosing() {
		if err := s.conn.Unbind(); err != nil {
			tflog.SubsystemDebug(s.connContext, subsystem, "Unbind failed", map[string]any{
				"error": err.Error(),
			})
		}
	}
	if err := s.conn.Close(); err != nil {
		tflog.SubsystemDebug(s.connContext, subsystem, "Close failed", map[string]any{
			"error": err.Error(),
		})
	}

	LogConnectionEvent(s.connContext, "connection_closed", nil)

	s.conn = nil
	s.connID = ""
	s.connContext = s.logContext
}

// IsOpen reports whether a bound connection is available. A connection the
// transport has started closing does not count.
func (s *Source) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isOpenLocked()
}

func (s *Source) isOpenLocked() bool {
	return s.conn != nil && !s.conn.IsClosing()
}

// ConnectionID returns the id of the open connection, or "" when closed.
func (s *Source) ConnectionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connID
}

// LookupByIdentifier searches for id and returns a user built from it when
// at least one entry matches. A search the server could not serve is retried
// once; any remaining failure closes the connection and is returned as a
// *registry.LookupError.
func (s *Source) LookupByIdentifier(ctx context.Context, id identity.Identifier) (*identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isOpenLocked() {
		return nil, registry.NewLookupError(id, errNotOpen)
	}

	filter := s.filterFor(id)
	req := ldap.NewSearchRequest(
		s.cfg.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		s.cfg.MaxQueryResultSize,
		timeLimitSeconds(s.cfg.MaxQueryDuration),
		false,
		filter,
		[]string{noAttributes},
		nil,
	)

	var result *ldap.SearchResult
	err := retry(ctx, 2, s.newBackOff(), isServerUnavailable,
		func(err error, _ time.Duration) {
			LogConnectionEvent(s.connContext, "search_retry", map[string]any{
				"id":    id.String(),
				"error": err.Error(),
			})
		},
		func() error {
			res, err := s.conn.Search(req)
			if err != nil && ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded) && res != nil && len(res.Entries) > 0 {
				err = nil
			}
			if err != nil {
				return err
			}
			result = res
			return nil
		})
	if err != nil {
		LogLDAPError(s.connContext, "search", err, map[string]any{
			"id":     id.String(),
			"filter": filter,
		})
		s.closeLocked()
		return nil, registry.NewLookupError(id, NewLDAPError("search", err))
	}

	switch n := len(result.Entries); {
	case n == 0:
		tflog.SubsystemDebug(s.connContext, subsystem, "No entry matched identifier", map[string]any{
			"id": id.String(),
		})
		return nil, nil
	case n > 1:
		tflog.SubsystemWarn(s.connContext, subsystem, "Multiple entries matched identifier", map[string]any{
			"id":      id.String(),
			"filter":  filter,
			"entries": n,
		})
	}

	return identity.NewUser(id), nil
}

// filterFor fills the filter slot with the escaped identifier rendering.
func (s *Source) filterFor(id identity.Identifier) string {
	return strings.Replace(s.cfg.Filter, "%s", ldap.EscapeFilter(id.String()), 1)
}

// timeLimitSeconds converts d into the whole seconds sent to the server.
func timeLimitSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
