// Package types defines the entity types, the remote API interface, the
// configuration, and the standard error values shared by the tablecache
// packages.
//
// A Table is a point-in-time view of one cached table. Records carry an
// integer ID; negative IDs are provisional records created locally and not
// yet confirmed by the server.
package types
