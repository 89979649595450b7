package changefeed

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/dogmatiq/changefeed/internal/mlog"
	"github.com/dogmatiq/dodeca/logging"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// cursorReply is the information a change stream needs from each aggregate
// or getMore reply.
type cursorReply struct {
	Initial       bool
	Batch         []bson.Raw
	PBRT          bson.Raw
	OperationTime *primitive.Timestamp
	Server        ServerDescription
}

// replyDocument is the shape of an aggregate or getMore reply.
type replyDocument struct {
	Cursor struct {
		ID                   int64      `bson:"id"`
		NS                   string     `bson:"ns"`
		FirstBatch           []bson.Raw `bson:"firstBatch"`
		NextBatch            []bson.Raw `bson:"nextBatch"`
		PostBatchResumeToken bson.Raw   `bson:"postBatchResumeToken"`
	} `bson:"cursor"`
	OperationTime *primitive.Timestamp `bson:"operationTime"`
}

// cursor is a server-side change stream cursor and the batch most recently
// fetched from it.
//
// A cursor is used by one goroutine at a time, except for kill() which may be
// called concurrently with any other method.
type cursor struct {
	exec   Executor
	ns     Namespace
	opts   *watchOptions
	logger logging.Logger

	id         atomic.Int64
	collection string
	server     ServerDescription
	batch      []bson.Raw

	// hook is notified of each reply. It is cleared by detach() so that a
	// discarded cursor can no longer influence the stream.
	hook func(cursorReply)
}

// openCursor runs the aggregate command that opens a new change stream
// cursor.
func openCursor(
	ctx context.Context,
	exec Executor,
	ns Namespace,
	pipeline Pipeline,
	opts *watchOptions,
	d resumeDescriptor,
	logger logging.Logger,
	hook func(cursorReply),
) (*cursor, error) {
	cmd := aggregateCommand(ns, pipeline, opts, d)
	mlog.LogCommand(logger, ns.String(), cmd.Name(), d.String())

	rep, err := exec.Execute(ctx, cmd)
	if err != nil {
		return nil, err
	}

	var doc replyDocument
	if err := bson.Unmarshal(rep.Document, &doc); err != nil {
		return nil, fmt.Errorf("malformed aggregate reply: %w", err)
	}

	c := &cursor{
		exec:       exec,
		ns:         ns,
		opts:       opts,
		logger:     logger,
		collection: ns.cursorCollection(),
		server:     rep.Server,
		hook:       hook,
	}

	if _, coll, ok := strings.Cut(doc.Cursor.NS, "."); ok {
		c.collection = coll
	}

	c.id.Store(doc.Cursor.ID)
	c.accept(cursorReply{
		Initial:       true,
		Batch:         doc.Cursor.FirstBatch,
		PBRT:          doc.Cursor.PostBatchResumeToken,
		OperationTime: doc.OperationTime,
		Server:        rep.Server,
	})

	return c, nil
}

// peek returns the next buffered document without consuming it.
func (c *cursor) peek() (bson.Raw, bool) {
	if len(c.batch) == 0 {
		return nil, false
	}

	return c.batch[0], true
}

// pop consumes the next buffered document. It returns the number of documents
// still buffered.
func (c *cursor) pop() int {
	c.batch[0] = nil
	c.batch = c.batch[1:]
	return len(c.batch)
}

// exhausted returns true if the server has closed the cursor and every
// buffered document has been consumed.
func (c *cursor) exhausted() bool {
	return c.id.Load() == 0 && len(c.batch) == 0
}

// getMore fetches the next batch from the server.
//
// It must only be called when the buffer is empty.
func (c *cursor) getMore(ctx context.Context) error {
	id := c.id.Load()
	if id == 0 {
		return ErrClosed
	}

	cmd := getMoreCommand(c.ns, id, c.collection, c.opts)
	mlog.LogCommand(c.logger, c.ns.String(), cmd.Name(), fmt.Sprintf("cursor %d", id))

	rep, err := c.exec.Execute(ctx, cmd)
	if err != nil {
		return err
	}

	var doc replyDocument
	if err := bson.Unmarshal(rep.Document, &doc); err != nil {
		return fmt.Errorf("malformed getMore reply: %w", err)
	}

	// If the cursor was killed while the getMore was in flight its ID has
	// already been zeroed and must stay that way.
	c.id.CompareAndSwap(id, doc.Cursor.ID)

	c.accept(cursorReply{
		Batch:         doc.Cursor.NextBatch,
		PBRT:          doc.Cursor.PostBatchResumeToken,
		OperationTime: doc.OperationTime,
		Server:        rep.Server,
	})

	return nil
}

// kill closes the server-side cursor, if it is still open.
//
// It sends at most one killCursors command over the lifetime of the cursor.
func (c *cursor) kill(ctx context.Context) error {
	id := c.id.Swap(0)
	if id == 0 {
		return nil
	}

	cmd := killCursorsCommand(c.ns, id, c.collection)
	mlog.LogCommand(c.logger, c.ns.String(), cmd.Name(), fmt.Sprintf("cursor %d", id))

	if _, err := c.exec.Execute(ctx, cmd); err != nil {
		return fmt.Errorf("unable to kill cursor %d: %w", id, err)
	}

	return nil
}

// detach stops the cursor from notifying its hook.
func (c *cursor) detach() {
	c.hook = nil
}

func (c *cursor) accept(r cursorReply) {
	c.server = r.Server
	c.batch = r.Batch

	if c.hook != nil {
		c.hook(r)
	}
}

// aggregateCommand returns the command that opens a change stream cursor.
func aggregateCommand(
	ns Namespace,
	pipeline Pipeline,
	opts *watchOptions,
	d resumeDescriptor,
) Command {
	var stage bson.D

	if opts.FullDocument != "" && opts.FullDocument != options.Default {
		stage = append(stage, bson.E{Key: "fullDocument", Value: string(opts.FullDocument)})
	}

	if opts.FullDocumentBeforeChange != "" {
		stage = append(stage, bson.E{Key: "fullDocumentBeforeChange", Value: string(opts.FullDocumentBeforeChange)})
	}

	stage = d.appendTo(stage)

	if ns.IsCluster() {
		stage = append(stage, bson.E{Key: "allChangesForCluster", Value: true})
	}

	if stage == nil {
		stage = bson.D{}
	}

	stages := bson.A{
		bson.D{{Key: "$changeStream", Value: stage}},
	}

	for _, s := range pipeline {
		stages = append(stages, s)
	}

	cur := bson.D{}
	if opts.BatchSize > 0 {
		cur = append(cur, bson.E{Key: "batchSize", Value: opts.BatchSize})
	}

	doc := bson.D{
		{Key: "aggregate", Value: ns.aggregateTarget()},
		{Key: "pipeline", Value: stages},
		{Key: "cursor", Value: cur},
	}

	if opts.Collation != nil {
		doc = append(doc, bson.E{Key: "collation", Value: opts.Collation})
	}

	if opts.Comment != nil {
		doc = append(doc, bson.E{Key: "comment", Value: opts.Comment})
	}

	return Command{
		Database:       ns.commandDatabase(),
		Document:       doc,
		ReadPreference: opts.ReadPreference,
	}
}

// getMoreCommand returns the command that fetches the next batch from a
// cursor.
func getMoreCommand(
	ns Namespace,
	id int64,
	collection string,
	opts *watchOptions,
) Command {
	doc := bson.D{
		{Key: "getMore", Value: id},
		{Key: "collection", Value: collection},
	}

	if opts.BatchSize > 0 {
		doc = append(doc, bson.E{Key: "batchSize", Value: opts.BatchSize})
	}

	if opts.MaxAwaitTime > 0 {
		doc = append(doc, bson.E{Key: "maxTimeMS", Value: opts.MaxAwaitTime.Milliseconds()})
	}

	return Command{
		Database:       ns.commandDatabase(),
		Document:       doc,
		ReadPreference: opts.ReadPreference,
	}
}

// killCursorsCommand returns the command that closes a cursor.
func killCursorsCommand(ns Namespace, id int64, collection string) Command {
	return Command{
		Database: ns.commandDatabase(),
		Document: bson.D{
			{Key: "killCursors", Value: collection},
			{Key: "cursors", Value: bson.A{id}},
		},
	}
}
