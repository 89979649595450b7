package fixtures

import (
	"github.com/dogmatiq/changefeed"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Token returns a resume token with the given data.
func Token(data string) bson.Raw {
	return MustMarshal(bson.D{{Key: "_data", Value: data}})
}

// Event returns a change event document for a change to the document with the
// given key, identified by a resume token with the given data.
func Event(op changefeed.OperationType, token string, key any) bson.Raw {
	return MustMarshal(bson.D{
		{Key: "_id", Value: Token(token)},
		{Key: "operationType", Value: string(op)},
		{Key: "clusterTime", Value: primitive.Timestamp{T: 1, I: 1}},
		{Key: "ns", Value: bson.D{
			{Key: "db", Value: "<db>"},
			{Key: "coll", Value: "<coll>"},
		}},
		{Key: "documentKey", Value: bson.D{{Key: "_id", Value: key}}},
	})
}

// InsertEvent returns an insert event identified by a resume token with the given
// data.
func InsertEvent(token string, key any) bson.Raw {
	return Event(changefeed.Insert, token, key)
}

// InvalidateEvent returns an invalidate event identified by a resume token with the
// given data.
func InvalidateEvent(token string) bson.Raw {
	return MustMarshal(bson.D{
		{Key: "_id", Value: Token(token)},
		{Key: "operationType", Value: string(changefeed.Invalidate)},
		{Key: "clusterTime", Value: primitive.Timestamp{T: 1, I: 1}},
	})
}

// Projected returns a change event document that does not have an _id field,
// as produced by a pipeline that projects the _id away.
func Projected(key any) bson.Raw {
	return MustMarshal(bson.D{
		{Key: "operationType", Value: string(changefeed.Insert)},
		{Key: "documentKey", Value: bson.D{{Key: "_id", Value: key}}},
	})
}

// CursorReply describes a reply to an aggregate or getMore command.
type CursorReply struct {
	// ID is the cursor ID. Zero means the server closed the cursor.
	ID int64

	// NS is the cursor namespace. If it is empty, "<db>.<coll>" is used.
	NS string

	// Batch is the set of events in the reply.
	Batch []bson.Raw

	// PostBatchResumeToken is the token that resumes after the batch, if any.
	PostBatchResumeToken bson.Raw

	// OperationTime is the reply's operationTime, if any.
	OperationTime *primitive.Timestamp
}

// Aggregate returns the reply as a response to an aggregate command.
func (r CursorReply) Aggregate() bson.Raw {
	return r.marshal("firstBatch")
}

// GetMore returns the reply as a response to a getMore command.
func (r CursorReply) GetMore() bson.Raw {
	return r.marshal("nextBatch")
}

func (r CursorReply) marshal(batchKey string) bson.Raw {
	ns := r.NS
	if ns == "" {
		ns = "<db>.<coll>"
	}

	batch := bson.A{}
	for _, ev := range r.Batch {
		batch = append(batch, ev)
	}

	cur := bson.D{
		{Key: "id", Value: r.ID},
		{Key: "ns", Value: ns},
		{Key: batchKey, Value: batch},
	}

	if r.PostBatchResumeToken != nil {
		cur = append(cur, bson.E{Key: "postBatchResumeToken", Value: r.PostBatchResumeToken})
	}

	doc := bson.D{
		{Key: "cursor", Value: cur},
		{Key: "ok", Value: 1.0},
	}

	if r.OperationTime != nil {
		doc = append(doc, bson.E{Key: "operationTime", Value: *r.OperationTime})
	}

	return MustMarshal(doc)
}

// OK is a reply to a command that has no other result, such as killCursors.
var OK = MustMarshal(bson.D{{Key: "ok", Value: 1.0}})

// MustMarshal marshals v to BSON, or panics if it can not be marshaled.
func MustMarshal(v any) bson.Raw {
	data, err := bson.Marshal(v)
	if err != nil {
		panic(err)
	}

	return data
}
