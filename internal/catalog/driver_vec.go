//go:build sqlite_vec && cgo

package catalog

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	// Register the sqlite-vec extension with the mattn/go-sqlite3 driver.
	// vec.Auto() registers it as an auto-loadable extension.
	vec.Auto()
}

const driverName = "sqlite3"

// vecEnabled reports whether the vec0 ANN module is compiled in. Semantic
// search uses vec_distance_cosine in SQL instead of brute-force scoring.
const vecEnabled = true
