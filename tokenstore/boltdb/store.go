package boltdb

import (
	"context"

	"github.com/dogmatiq/changefeed/internal/x/bboltx"
	"github.com/dogmatiq/changefeed/tokenstore"
	"go.etcd.io/bbolt"
	"go.mongodb.org/mongo-driver/bson"
)

// DefaultBucketPath is the path of the bucket that contains the tokens when
// Store.BucketPath is empty.
var DefaultBucketPath = [][]byte{
	[]byte("changefeed"),
	[]byte("tokens"),
}

// Store is an implementation of tokenstore.Store that persists tokens in a
// BoltDB database.
type Store struct {
	// DB is the database that contains the tokens.
	DB *bbolt.DB

	// BucketPath is the path to the bucket that contains the tokens. If it is
	// empty, DefaultBucketPath is used.
	BucketPath [][]byte
}

var _ tokenstore.Store = (*Store)(nil)

// Load returns the token stored under key.
func (s *Store) Load(ctx context.Context, key string) (token bson.Raw, ok bool, err error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	err = bboltx.View(s.DB, func(tx *bbolt.Tx) {
		if b := bboltx.Bucket(tx, s.path()...); b != nil {
			token = bboltx.Get(b, []byte(key))
		}
	})
	if err != nil {
		return nil, false, err
	}

	return token, token != nil, nil
}

// Save stores token under key, replacing any existing token.
func (s *Store) Save(ctx context.Context, key string, token bson.Raw) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return bboltx.Update(s.DB, func(tx *bbolt.Tx) {
		b := bboltx.CreateBucketIfNotExists(tx, s.path()...)
		bboltx.Put(b, []byte(key), token)
	})
}

func (s *Store) path() [][]byte {
	if len(s.BucketPath) == 0 {
		return DefaultBucketPath
	}

	return s.BucketPath
}
