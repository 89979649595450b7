package changefeed

import (
	"bytes"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// tokenTracker computes a stream's externally visible resume token.
//
// The token is only ever set to a value produced by the server or supplied by
// the caller, it is never synthesized.
type tokenTracker struct {
	// startAfter and resumeAfter are the tokens supplied to Watch(), if any.
	startAfter  bson.Raw
	resumeAfter bson.Raw

	// operationTime is the caller-supplied startAtOperationTime, or the
	// operationTime of the first aggregate reply.
	operationTime         *primitive.Timestamp
	operationTimeSupplied bool

	// pbrt is the postBatchResumeToken of the most recent reply.
	pbrt bson.Raw

	// token is the current resume token.
	token bson.Raw

	// hasIterated is true once at least one event has been returned to the
	// caller.
	hasIterated bool

	// changed is called each time token changes value.
	changed func(bson.Raw)
}

// seed sets the initial token from the caller-supplied options.
func (t *tokenTracker) seed(o *watchOptions) {
	t.startAfter = o.StartAfter
	t.resumeAfter = o.ResumeAfter

	if o.StartAtOperationTime != nil {
		ts := *o.StartAtOperationTime
		t.operationTime = &ts
		t.operationTimeSupplied = true
	}

	if t.startAfter != nil {
		t.set(t.startAfter)
	} else if t.resumeAfter != nil {
		t.set(t.resumeAfter)
	}
}

// Token returns the current resume token, or nil if there is none.
func (t *tokenTracker) Token() bson.Raw {
	return t.token
}

// observeOperationTime records the operationTime of the first aggregate reply,
// for use when resuming a stream that has no resume token.
func (t *tokenTracker) observeOperationTime(ts *primitive.Timestamp) {
	if ts == nil || t.operationTime != nil {
		return
	}

	if t.startAfter != nil || t.resumeAfter != nil {
		return
	}

	v := *ts
	t.operationTime = &v
}

// observeBatch updates the token after a reply containing a batch of n events
// has been received.
func (t *tokenTracker) observeBatch(n int, pbrt bson.Raw) {
	t.pbrt = pbrt

	if n == 0 && pbrt != nil {
		t.set(pbrt)
	}
}

// observeEvent updates the token after an event has been returned to the
// caller. remaining is the number of events still buffered in the same batch.
//
// The batch is considered drained only after the event has been delivered, so
// the postBatchResumeToken takes precedence over the _id of the final event in
// a batch.
func (t *tokenTracker) observeEvent(id bson.Raw, remaining int) {
	t.hasIterated = true

	if remaining == 0 && t.pbrt != nil {
		t.set(t.pbrt)
	} else {
		t.set(id)
	}
}

// resetBatch forgets the postBatchResumeToken of a discarded cursor.
func (t *tokenTracker) resetBatch() {
	t.pbrt = nil
}

func (t *tokenTracker) set(v bson.Raw) {
	if t.token != nil && bytes.Equal(t.token, v) {
		return
	}

	t.token = v

	if t.changed != nil {
		t.changed(v)
	}
}
