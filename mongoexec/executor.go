// Package mongoexec runs change stream commands against a MongoDB deployment
// using the official Go driver.
package mongoexec

import (
	"context"
	"errors"
	"fmt"

	"github.com/dogmatiq/changefeed"
	"github.com/dogmatiq/changefeed/internal/x/syncx"
	"github.com/dogmatiq/dodeca/logging"
	"github.com/hashicorp/go-version"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Executor is an implementation of changefeed.Executor that runs commands
// using a *mongo.Client.
//
// Every command is run within the same explicit session, so that the getMore
// and killCursors commands for a cursor are associated with the session that
// created it. Sessions can not be used concurrently, so commands are run one
// at a time. Each change stream that needs to make progress independently of
// the others should be given its own Executor.
type Executor struct {
	// Client is the client used to run commands.
	Client *mongo.Client

	// Logger is the target for log messages about the executor's connection.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger

	m       syncx.Mutex
	session mongo.Session
	server  *changefeed.ServerDescription
	closed  bool
}

var _ changefeed.Executor = (*Executor)(nil)

// errExecutorClosed is returned by Execute() after Close() has been called.
var errExecutorClosed = errors.New("executor is closed")

// Execute runs cmd and returns the server's reply.
func (e *Executor) Execute(ctx context.Context, cmd changefeed.Command) (changefeed.Reply, error) {
	if err := e.m.Lock(ctx); err != nil {
		return changefeed.Reply{}, err
	}
	defer e.m.Unlock()

	if e.closed {
		return changefeed.Reply{}, errExecutorClosed
	}

	if err := e.init(ctx, cmd.ReadPreference); err != nil {
		return changefeed.Reply{}, err
	}

	doc, err := e.run(ctx, cmd.Database, cmd.Document, cmd.ReadPreference)
	if err != nil {
		return changefeed.Reply{}, err
	}

	return changefeed.Reply{
		Document: doc,
		Server:   *e.server,
	}, nil
}

// Close ends the executor's session.
//
// It does not disconnect the client.
func (e *Executor) Close(ctx context.Context) error {
	if err := e.m.Lock(ctx); err != nil {
		return err
	}
	defer e.m.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if e.session != nil {
		e.session.EndSession(ctx)
		e.session = nil
	}

	return nil
}

// init starts the session and describes the server the first time it is
// called.
func (e *Executor) init(ctx context.Context, rp *readpref.ReadPref) error {
	if e.session == nil {
		s, err := e.Client.StartSession()
		if err != nil {
			return fmt.Errorf("unable to start session: %w", err)
		}

		e.session = s
	}

	if e.server != nil {
		return nil
	}

	hello, err := e.run(ctx, "admin", bson.D{{Key: "hello", Value: 1}}, rp)
	if err != nil {
		return err
	}

	build, err := e.run(ctx, "admin", bson.D{{Key: "buildInfo", Value: 1}}, rp)
	if err != nil {
		return err
	}

	desc, err := describe(hello, build)
	if err != nil {
		return err
	}

	e.server = &desc

	logging.Log(
		e.Logger,
		"connected to mongodb %s at %s (wire version %d)",
		versionString(desc.Version),
		desc.Address,
		desc.MaxWireVersion,
	)

	return nil
}

// run executes a single command within the executor's session.
func (e *Executor) run(
	ctx context.Context,
	db string,
	cmd bson.D,
	rp *readpref.ReadPref,
) (bson.Raw, error) {
	opts := options.RunCmd()
	if rp != nil {
		opts.SetReadPreference(rp)
	}

	var doc bson.Raw

	err := mongo.WithSession(ctx, e.session, func(ctx mongo.SessionContext) error {
		var err error
		doc, err = e.Client.
			Database(db).
			RunCommand(ctx, cmd, opts).
			Raw()
		return err
	})

	if err != nil {
		return nil, convertError(ctx, err)
	}

	return doc, nil
}

// convertError converts an error from the driver into the error types
// understood by changefeed.IsResumable().
func convertError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if mongo.IsNetworkError(err) {
		return &changefeed.NetworkError{Cause: err}
	}

	var ce mongo.CommandError
	if errors.As(err, &ce) {
		return &changefeed.CommandError{
			Code:    ce.Code,
			Name:    ce.Name,
			Message: ce.Message,
			Labels:  ce.Labels,
		}
	}

	return err
}

// describe builds a server description from the replies to the hello and
// buildInfo commands.
func describe(hello, build bson.Raw) (changefeed.ServerDescription, error) {
	var h struct {
		Me             string `bson:"me"`
		MaxWireVersion int32  `bson:"maxWireVersion"`
	}

	if err := bson.Unmarshal(hello, &h); err != nil {
		return changefeed.ServerDescription{}, fmt.Errorf("malformed hello reply: %w", err)
	}

	var b struct {
		Version string `bson:"version"`
	}

	if err := bson.Unmarshal(build, &b); err != nil {
		return changefeed.ServerDescription{}, fmt.Errorf("malformed buildInfo reply: %w", err)
	}

	desc := changefeed.ServerDescription{
		Address:        h.Me,
		MaxWireVersion: h.MaxWireVersion,
	}

	// An unparseable version leaves classification to the wire version.
	if v, err := version.NewVersion(b.Version); err == nil {
		desc.Version = v
	}

	return desc, nil
}

func versionString(v *version.Version) string {
	if v == nil {
		return "<unknown version>"
	}

	return v.String()
}
