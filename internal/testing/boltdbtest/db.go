// Package boltdbtest provides BoltDB databases for use in tests.
package boltdbtest

import (
	"os"
	"path/filepath"
	"sync"

	"go.etcd.io/bbolt"
)

// Open opens a BoltDB database in a new temporary directory.
//
// The returned function closes the database and removes the directory. It
// must be used instead of DB.Close(), and may be called more than once.
func Open() (*bbolt.DB, func()) {
	dir, err := os.MkdirTemp("", "changefeed-boltdb-*")
	if err != nil {
		panic(err)
	}

	db, err := bbolt.Open(filepath.Join(dir, "tokens.boltdb"), 0600, nil)
	if err != nil {
		os.RemoveAll(dir)
		panic(err)
	}

	var once sync.Once
	return db, func() {
		once.Do(func() {
			db.Close()
			os.RemoveAll(dir)
		})
	}
}
