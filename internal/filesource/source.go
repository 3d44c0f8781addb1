// Package filesource provides a directory source backed by a flat file of
// known clients, one JSON object per line:
//
//	{"type": "HW_ADDR", "id": "01:ac:00:f0:33:44", "opt1": "true"}
//
// Every member other than type and id becomes a user attribute.
package filesource

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/usercheck/internal/identity"
	"github.com/isometry/usercheck/internal/registry"
)

const subsystem = "filesource"

var errNotOpen = errors.New("user file is not open")

// Source answers lookups from an in-memory index of a user file. The file is
// read on Open; edits take effect after Close and a fresh Open.
type Source struct {
	path string

	mu    sync.Mutex
	users map[identity.Identifier]*identity.User

	logContext context.Context // Context with configured subsystems for logging
}

var _ registry.DirectorySource = (*Source)(nil)

// NewSource returns a closed source for the file at path.
func NewSource(ctx context.Context, path string) (*Source, error) {
	if strings.TrimSpace(path) == "" {
		return nil, registry.NewConfigurationError("path", "cannot be blank")
	}

	ctx = tflog.NewSubsystem(ctx, subsystem, tflog.WithLevelFromEnv("USERCHECK_LOG_FILESOURCE"))
	return &Source{path: path, logContext: ctx}, nil
}

// Open reads and indexes the user file. A missing or malformed file leaves the
// source closed and returns a *registry.ConnectionError.
func (s *Source) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.users != nil {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		tflog.SubsystemError(s.logContext, subsystem, "Failed to read user file", map[string]any{
			"path":  s.path,
			"error": err.Error(),
		})
		return registry.NewConnectionError("read", err)
	}

	users, err := parseUsers(data)
	if err != nil {
		tflog.SubsystemError(s.logContext, subsystem, "Failed to parse user file", map[string]any{
			"path":  s.path,
			"error": err.Error(),
		})
		return registry.NewConnectionError("parse", fmt.Errorf("%s: %w", s.path, err))
	}

	s.users = users
	tflog.SubsystemInfo(s.logContext, subsystem, "User file loaded", map[string]any{
		"path":  s.path,
		"users": len(users),
	})
	return nil
}

// Close drops the index. It is idempotent.
func (s *Source) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = nil
}

// IsOpen reports whether the file has been loaded.
func (s *Source) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users != nil
}

// LookupByIdentifier returns the user listed for id, or nil.
func (s *Source) LookupByIdentifier(_ context.Context, id identity.Identifier) (*identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.users == nil {
		return nil, registry.NewLookupError(id, errNotOpen)
	}
	return s.users[id], nil
}

// parseUsers indexes every entry of a user file. Blank lines and lines
// starting with # are skipped; a later entry for the same id replaces an
// earlier one.
func parseUsers(data []byte) (map[identity.Identifier]*identity.User, error) {
	users := make(map[identity.Identifier]*identity.User)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 || text[0] == '#' {
			continue
		}

		user, err := parseEntry(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		users[user.ID] = user
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return users, nil
}

func parseEntry(text []byte) (*identity.User, error) {
	var fields map[string]any
	if err := json.Unmarshal(text, &fields); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	kindText, ok := fields["type"].(string)
	if !ok {
		return nil, fmt.Errorf(`"type" must be a string`)
	}
	kind, err := identity.ParseKind(kindText)
	if err != nil {
		return nil, err
	}

	idText, ok := fields["id"].(string)
	if !ok {
		return nil, fmt.Errorf(`"id" must be a string`)
	}
	id, err := identity.Parse(kind, idText)
	if err != nil {
		return nil, err
	}

	attrs := make(map[string]string, len(fields))
	for name, value := range fields {
		if name == "type" || name == "id" {
			continue
		}
		str, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("attribute %q must be a string", name)
		}
		attrs[name] = str
	}

	return identity.NewUserWithAttributes(id, attrs), nil
}
