//go:build !cgo_sqlite
// +build !cgo_sqlite

package storage

// This file is compiled by default and when CGO is unavailable. The pure Go
// driver needs no C compiler and cross-compiles cleanly; FTS5 is built in.
//
// Build command:
//   CGO_ENABLED=0 go build ./...
//
// Driver used: modernc.org/sqlite

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)
