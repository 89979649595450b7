package changefeed

// Namespace identifies the resource that a change stream watches.
//
// A namespace with an empty Collection watches an entire database. A namespace
// with an empty Database watches the entire cluster.
type Namespace struct {
	Database   string
	Collection string
}

// Collection returns a namespace that watches a single collection.
func Collection(db, coll string) Namespace {
	if db == "" || coll == "" {
		panic("database and collection names must not be empty")
	}

	return Namespace{db, coll}
}

// Database returns a namespace that watches every collection in a database.
func Database(db string) Namespace {
	if db == "" {
		panic("database name must not be empty")
	}

	return Namespace{Database: db}
}

// Cluster returns a namespace that watches every database in the cluster.
func Cluster() Namespace {
	return Namespace{}
}

// IsCluster returns true if ns watches the entire cluster.
func (ns Namespace) IsCluster() bool {
	return ns.Database == ""
}

// commandDatabase returns the database that aggregate and cursor commands are
// run against.
func (ns Namespace) commandDatabase() string {
	if ns.IsCluster() {
		return "admin"
	}

	return ns.Database
}

// aggregateTarget returns the value of the "aggregate" field in the aggregate
// command.
func (ns Namespace) aggregateTarget() any {
	if ns.Collection == "" {
		return int32(1)
	}

	return ns.Collection
}

// cursorCollection returns the value of the "collection" field in getMore and
// the "killCursors" field in killCursors.
func (ns Namespace) cursorCollection() string {
	if ns.Collection == "" {
		return "$cmd.aggregate"
	}

	return ns.Collection
}

func (ns Namespace) String() string {
	switch {
	case ns.IsCluster():
		return "<cluster>"
	case ns.Collection == "":
		return ns.Database
	default:
		return ns.Database + "." + ns.Collection
	}
}
