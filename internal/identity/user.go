package identity

import "maps"

// User is the record confirming that an identifier is known to a directory.
type User struct {
	ID         Identifier
	Attributes map[string]string // Optional, opaque to lookup logic
}

// NewUser creates a user for the given identifier with no attributes.
func NewUser(id Identifier) *User {
	return &User{ID: id}
}

// NewUserWithAttributes creates a user carrying a copy of attrs.
func NewUserWithAttributes(id Identifier, attrs map[string]string) *User {
	u := &User{ID: id}
	if len(attrs) > 0 {
		u.Attributes = maps.Clone(attrs)
	}
	return u
}

// Attribute returns the named attribute value, if present.
func (u *User) Attribute(name string) (string, bool) {
	if u == nil || u.Attributes == nil {
		return "", false
	}
	v, ok := u.Attributes[name]
	return v, ok
}

// Clone returns a copy of u that shares no mutable state with it.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	return NewUserWithAttributes(u.ID, u.Attributes)
}
