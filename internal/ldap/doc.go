/*
Package ldap provides the LDAP directory source for usercheck.

A Source answers one question: does any entry under the configured base DN
match the filter for a client identifier? It implements
registry.DirectorySource and is normally driven by a registry.Registry.

# Connection Lifecycle

A Source holds at most one connection and moves between two states:

  - CLOSED: after NewSource, Close, or any failed query
  - OPEN: after a successful Open (dial, optional StartTLS, bind)

The transport is secured per TLSMode. When no mode is given it is inferred
from the URL scheme: ldaps:// means TLS, ldap:// means none.

# Retries

Binds are retried with bounded exponential backoff while the failure is
transient (busy, unavailable, unreachable), redialling when the connection
has dropped. A search the server could not serve is retried once on the same
connection. Anything else closes the connection and surfaces as a
registry.LookupError; the next Open starts fresh.

# Queries

The filter template carries a single %s slot, filled with the identifier in
colon hex, escaped for use in a filter. Searches request no attributes and
are bounded in size and time both on the server and on the client.
*/
package ldap
