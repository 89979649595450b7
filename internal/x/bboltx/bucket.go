package bboltx

import "go.etcd.io/bbolt"

// BucketParent is an interface for things that contain buckets, namely
// transactions and other buckets.
type BucketParent interface {
	CreateBucketIfNotExists([]byte) (*bbolt.Bucket, error)
	Bucket([]byte) *bbolt.Bucket
}

var (
	_ BucketParent = (*bbolt.Tx)(nil)
	_ BucketParent = (*bbolt.Bucket)(nil)
)

// CreateBucketIfNotExists creates nested buckets with names given by the
// elements of path and returns the innermost bucket.
func CreateBucketIfNotExists(p BucketParent, path ...[]byte) *bbolt.Bucket {
	if len(path) == 0 {
		panic("at least one path element must be provided")
	}

	var b *bbolt.Bucket

	for _, n := range path {
		var err error
		b, err = p.CreateBucketIfNotExists(n)
		Fail(err)

		p = b
	}

	return b
}

// Bucket gets nested buckets with names given by the elements of path.
//
// It returns nil if any of the nested buckets does not exist.
func Bucket(p BucketParent, path ...[]byte) (b *bbolt.Bucket) {
	if len(path) == 0 {
		panic("at least one path element must be provided")
	}

	for _, n := range path {
		b = p.Bucket(n)
		if b == nil {
			return nil
		}

		p = b
	}

	return b
}

// Get returns a copy of the value associated with k in b, or nil if there is
// no such value.
//
// Values returned by bbolt directly are only valid for the life of the
// transaction.
func Get(b *bbolt.Bucket, k []byte) []byte {
	v := b.Get(k)
	if v == nil {
		return nil
	}

	return append([]byte(nil), v...)
}

// Put writes a value to a bucket.
func Put(b *bbolt.Bucket, k, v []byte) {
	Fail(b.Put(k, v))
}
