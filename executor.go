package changefeed

import (
	"context"

	"github.com/hashicorp/go-version"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Executor runs database commands on behalf of a change stream.
//
// Connection management, server selection, authentication and wire-level
// encoding are the executor's concern. Failures must be reported as a
// *NetworkError or *CommandError so that the stream can decide whether it is
// able to resume.
type Executor interface {
	// Execute runs cmd and returns the server's reply.
	//
	// If ctx is canceled while the command is in flight the executor should
	// abandon the command and return ctx.Err() (possibly wrapped).
	Execute(ctx context.Context, cmd Command) (Reply, error)
}

// Command is a database command to be run by an Executor.
type Command struct {
	// Database is the name of the database that the command is run against.
	Database string

	// Document is the command document. The first element is the command name.
	Document bson.D

	// ReadPreference is the criterion used to select the target server. A nil
	// value means the primary.
	ReadPreference *readpref.ReadPref
}

// Name returns the name of the command.
func (c Command) Name() string {
	if len(c.Document) == 0 {
		return ""
	}

	return c.Document[0].Key
}

// Reply is a successful command reply.
type Reply struct {
	// Document is the raw reply document.
	Document bson.Raw

	// Server describes the server that produced the reply.
	Server ServerDescription
}

// ServerDescription is the information about a server obtained when the
// executor connected to it.
type ServerDescription struct {
	// Address is the host and port of the server.
	Address string

	// Version is the server's version. It may be nil if it is unknown.
	Version *version.Version

	// MaxWireVersion is the maximum wire protocol version supported by the
	// server.
	MaxWireVersion int32
}

var (
	version40  = version.Must(version.NewVersion("4.0.0"))
	version407 = version.Must(version.NewVersion("4.0.7"))
	version44  = version.Must(version.NewVersion("4.4.0"))
)

// requiresOperationTime returns true if the server is in the range of versions
// that support startAtOperationTime but do not report a postBatchResumeToken.
func (d ServerDescription) requiresOperationTime() bool {
	if d.Version == nil {
		return false
	}

	return d.Version.GreaterThanOrEqual(version40) &&
		d.Version.LessThan(version407)
}

// labelsResumableErrors returns true if the server attaches the
// ResumableChangeStreamError label itself, rather than the client inferring
// resumability from error codes.
func (d ServerDescription) labelsResumableErrors() bool {
	if d.Version != nil {
		return d.Version.GreaterThanOrEqual(version44)
	}

	return d.MaxWireVersion >= 9
}
