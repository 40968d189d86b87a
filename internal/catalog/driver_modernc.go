//go:build !sqlite_vec || !cgo

package catalog

import (
	_ "modernc.org/sqlite"
)

// driverName selects the pure-Go SQLite driver. The sqlite_vec build tag
// swaps in mattn/go-sqlite3 with the sqlite-vec extension for ANN search.
const driverName = "sqlite"

// vecEnabled reports whether the vec0 ANN module is compiled in.
const vecEnabled = false
