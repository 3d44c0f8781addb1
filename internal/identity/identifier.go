package identity

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// Kind identifies which protocol field an identifier was taken from.
type Kind int

const (
	KindHWAddress Kind = iota // Hardware (MAC) address
	KindDUID                  // DHCPv6 client identifier
)

// String returns the text label used in data files and logs.
func (k Kind) String() string {
	switch k {
	case KindHWAddress:
		return "HW_ADDR"
	case KindDUID:
		return "DUID"
	default:
		return "UNKNOWN"
	}
}

// ParseKind converts a text label into a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HW_ADDR", "HWADDR", "HW_ADDRESS":
		return KindHWAddress, nil
	case "DUID":
		return KindDUID, nil
	default:
		return 0, fmt.Errorf("unsupported identifier type %q, must be one of HW_ADDR, DUID", s)
	}
}

// Identifier is an opaque, immutable key made of a kind and a byte sequence.
// Identifiers are comparable and can be used directly as map keys.
type Identifier struct {
	kind Kind
	raw  string
}

// New builds an identifier from raw bytes. The slice is copied.
func New(kind Kind, b []byte) Identifier {
	return Identifier{kind: kind, raw: string(b)}
}

// Parse builds an identifier from hex text, either undelimited or with every
// byte written as two digits separated by ':'.
func Parse(kind Kind, text string) (Identifier, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Identifier{}, fmt.Errorf("identifier cannot be blank")
	}

	clean := trimmed
	if strings.Contains(trimmed, ":") {
		groups := strings.Split(trimmed, ":")
		for _, g := range groups {
			if len(g) != 2 {
				return Identifier{}, fmt.Errorf("invalid %s identifier %q: each ':' delimited group must be two hex digits", kind, text)
			}
		}
		clean = strings.Join(groups, "")
	}

	b, err := hex.DecodeString(clean)
	if err != nil {
		return Identifier{}, fmt.Errorf("invalid %s identifier %q: %w", kind, text, err)
	}

	return New(kind, b), nil
}

// Kind returns the identifier kind.
func (id Identifier) Kind() Kind {
	return id.kind
}

// Bytes returns a copy of the identifier bytes.
func (id Identifier) Bytes() []byte {
	return []byte(id.raw)
}

// IsZero reports whether the identifier carries no bytes.
func (id Identifier) IsZero() bool {
	return id.raw == ""
}

// String renders the bytes as lowercase colon-delimited hex, e.g. "aa:bb:cc".
func (id Identifier) String() string {
	if id.raw == "" {
		return ""
	}

	var sb strings.Builder
	sb.Grow(len(id.raw) * 3)
	for i := 0; i < len(id.raw); i++ {
		if i > 0 {
			sb.WriteByte(':')
		}
		sb.WriteString(hex.EncodeToString([]byte{id.raw[i]}))
	}
	return sb.String()
}

// Compare orders identifiers by kind, then lexicographically by bytes.
func (id Identifier) Compare(other Identifier) int {
	switch {
	case id.kind < other.kind:
		return -1
	case id.kind > other.kind:
		return 1
	}
	return bytes.Compare([]byte(id.raw), []byte(other.raw))
}
