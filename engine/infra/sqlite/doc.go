// Package sqlite provides the modernc.org/sqlite backed chunk table used by
// the sqlite vector backend: connection management, embedded migrations and
// a squirrel based repository.
package sqlite
