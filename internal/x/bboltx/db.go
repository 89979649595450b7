package bboltx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dogmatiq/linger"
	"go.etcd.io/bbolt"
)

// Open opens the database at the given path, creating the file and any
// missing parent directories.
//
// If mode is zero, 0600 is used.
//
// bbolt waits for an exclusive lock on the file. It gives up at the context
// deadline if that is sooner than opts.Timeout, in which case it returns
// context.DeadlineExceeded.
func Open(
	ctx context.Context,
	path string,
	mode os.FileMode,
	opts *bbolt.Options,
) (*bbolt.DB, error) {
	if mode == 0 {
		mode = 0600
	}

	// A non-positive timeout means bbolt waits forever.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("unable to create directory for %s: %w", path, err)
		}
	}

	if timeout, ok := linger.FromContextDeadline(ctx); ok {
		o := bbolt.DefaultOptions
		if opts != nil {
			o = opts
		}

		if o.Timeout == 0 || o.Timeout > timeout {
			clone := *o
			clone.Timeout = timeout
			opts = &clone
		}
	}

	db, err := bbolt.Open(path, mode, opts)
	if err == bbolt.ErrTimeout {
		return nil, context.DeadlineExceeded
	}

	return db, err
}
