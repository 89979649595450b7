package bboltx_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/dogmatiq/changefeed/internal/x/bboltx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.etcd.io/bbolt"
)

var _ = Describe("func Open()", func() {
	var path string

	BeforeEach(func() {
		path = filepath.Join(tempDir(), "test.boltdb")
	})

	It("creates the database file", func() {
		db, err := bboltx.Open(context.Background(), path, 0, nil)
		Expect(err).ShouldNot(HaveOccurred())
		defer db.Close()

		info, err := os.Stat(path)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(info.Mode().Perm()).To(Equal(os.FileMode(0600)))
	})

	It("creates missing parent directories", func() {
		path = filepath.Join(tempDir(), "a", "b", "test.boltdb")

		db, err := bboltx.Open(context.Background(), path, 0, nil)
		Expect(err).ShouldNot(HaveOccurred())
		defer db.Close()

		Expect(path).To(BeAnExistingFile())
	})

	It("returns an error if the context has already ended", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := bboltx.Open(ctx, path, 0, nil)
		Expect(err).To(Equal(context.Canceled))
	})

	It("returns context.DeadlineExceeded if the file lock can not be acquired in time", func() {
		db, err := bboltx.Open(context.Background(), path, 0, nil)
		Expect(err).ShouldNot(HaveOccurred())
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err = bboltx.Open(ctx, path, 0, nil)
		Expect(err).To(Equal(context.DeadlineExceeded))
	})
})

var _ = Describe("func Update()", func() {
	var db *bbolt.DB

	BeforeEach(func() {
		var err error
		db, err = bboltx.Open(
			context.Background(),
			filepath.Join(tempDir(), "test.boltdb"),
			0,
			nil,
		)
		Expect(err).ShouldNot(HaveOccurred())
		DeferCleanup(db.Close)
	})

	It("commits values written within nested buckets", func() {
		err := bboltx.Update(db, func(tx *bbolt.Tx) {
			b := bboltx.CreateBucketIfNotExists(tx, []byte("a"), []byte("b"))
			bboltx.Put(b, []byte("<key>"), []byte("<value>"))
		})
		Expect(err).ShouldNot(HaveOccurred())

		var v []byte
		err = bboltx.View(db, func(tx *bbolt.Tx) {
			v = bboltx.Get(bboltx.Bucket(tx, []byte("a"), []byte("b")), []byte("<key>"))
		})
		Expect(err).ShouldNot(HaveOccurred())
		Expect(v).To(Equal([]byte("<value>")))
	})

	It("rolls back and returns the error when the transaction is aborted with Fail()", func() {
		cause := errors.New("<error>")

		err := bboltx.Update(db, func(tx *bbolt.Tx) {
			b := bboltx.CreateBucketIfNotExists(tx, []byte("a"))
			bboltx.Put(b, []byte("<key>"), []byte("<value>"))
			bboltx.Fail(cause)
		})
		Expect(err).To(Equal(cause))

		err = bboltx.View(db, func(tx *bbolt.Tx) {
			Expect(bboltx.Bucket(tx, []byte("a"))).To(BeNil())
		})
		Expect(err).ShouldNot(HaveOccurred())
	})

	It("returns errors raised by the helpers in this package", func() {
		err := bboltx.View(db, func(tx *bbolt.Tx) {
			// Bucket creation is not permitted in a read-only transaction.
			bboltx.CreateBucketIfNotExists(tx, []byte("a"))
		})
		Expect(err).To(Equal(bbolt.ErrTxNotWritable))
	})

	It("does not intercept unrelated panics", func() {
		Expect(func() {
			_ = bboltx.Update(db, func(tx *bbolt.Tx) {
				panic("<panic>")
			})
		}).To(PanicWith("<panic>"))
	})
})

// tempDir returns a temporary directory that is removed when the current
// test ends.
func tempDir() string {
	dir, err := os.MkdirTemp("", "bboltx-*")
	Expect(err).ShouldNot(HaveOccurred())
	DeferCleanup(os.RemoveAll, dir)

	return dir
}
