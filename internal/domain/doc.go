// Package domain holds the core types and service interfaces: apps, user
// sessions, users, and slug handling. It has no dependencies on transport,
// storage, or the OAuth provider.
package domain
