package bboltx

import (
	"go.etcd.io/bbolt"
)

// View runs fn within a read-only transaction.
//
// fn may use the other helpers in this package freely; any error they
// encounter aborts fn and is returned by View.
func View(db *bbolt.DB, fn func(tx *bbolt.Tx)) error {
	return db.View(func(tx *bbolt.Tx) (err error) {
		defer recoverTx(&err)
		fn(tx)
		return nil
	})
}

// Update runs fn within a read-write transaction.
//
// The transaction is committed if fn returns normally. It is rolled back if
// fn is aborted by one of the helpers in this package or by Fail().
func Update(db *bbolt.DB, fn func(tx *bbolt.Tx)) error {
	return db.Update(func(tx *bbolt.Tx) (err error) {
		defer recoverTx(&err)
		fn(tx)
		return nil
	})
}

// Fail aborts the transaction function that is currently running within
// View() or Update(), causing it to return err.
//
// It does nothing if err is nil.
func Fail(err error) {
	if err != nil {
		panic(txAbort{err})
	}
}

// txAbort is the panic value used to unwind a transaction function.
type txAbort struct {
	err error
}

func recoverTx(err *error) {
	switch v := recover().(type) {
	case nil:
	case txAbort:
		*err = v.err
	default:
		panic(v)
	}
}
