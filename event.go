package changefeed

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// OperationType is the kind of mutation described by a change event.
type OperationType string

// Operation types produced by the server.
const (
	Insert       OperationType = "insert"
	Update       OperationType = "update"
	Replace      OperationType = "replace"
	Delete       OperationType = "delete"
	Drop         OperationType = "drop"
	Rename       OperationType = "rename"
	DropDatabase OperationType = "dropDatabase"
	Invalidate   OperationType = "invalidate"
)

// ChangeEvent is a single document produced by a change stream.
//
// The raw document is retained as-is. The caller's pipeline may reshape the
// event, in which case only the fields that survived are available.
type ChangeEvent struct {
	// Raw is the event document exactly as returned by the server.
	Raw bson.Raw
}

// ResumeToken returns the event's _id field, which is the token that resumes
// the stream immediately after this event.
func (e ChangeEvent) ResumeToken() (bson.Raw, bool) {
	v, err := e.Raw.LookupErr("_id")
	if err != nil {
		return nil, false
	}

	doc, ok := v.DocumentOK()
	return doc, ok
}

// OperationType returns the type of the operation that caused the event.
func (e ChangeEvent) OperationType() OperationType {
	s, _ := e.Raw.Lookup("operationType").StringValueOK()
	return OperationType(s)
}

// Namespace returns the database and collection that the event applies to.
func (e ChangeEvent) Namespace() Namespace {
	ns, ok := e.Raw.Lookup("ns").DocumentOK()
	if !ok {
		return Namespace{}
	}

	db, _ := ns.Lookup("db").StringValueOK()
	coll, _ := ns.Lookup("coll").StringValueOK()

	return Namespace{db, coll}
}

// ClusterTime returns the time of the oplog entry associated with the event.
func (e ChangeEvent) ClusterTime() (primitive.Timestamp, bool) {
	t, i, ok := e.Raw.Lookup("clusterTime").TimestampOK()
	return primitive.Timestamp{T: t, I: i}, ok
}

// DocumentKey returns the _id (and shard key, if any) of the affected document.
func (e ChangeEvent) DocumentKey() (bson.Raw, bool) {
	return e.Raw.Lookup("documentKey").DocumentOK()
}

// FullDocument returns the full document included in the event, if any.
func (e ChangeEvent) FullDocument() (bson.Raw, bool) {
	return e.Raw.Lookup("fullDocument").DocumentOK()
}

// Decode unmarshals the event into v.
func (e ChangeEvent) Decode(v any) error {
	return bson.Unmarshal(e.Raw, v)
}

// IsInvalidate returns true if this is the terminal event of a stream whose
// watched collection or database no longer exists.
func (e ChangeEvent) IsInvalidate() bool {
	return e.OperationType() == Invalidate
}

func (e ChangeEvent) String() string {
	return e.Raw.String()
}
