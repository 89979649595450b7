package streamtest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/dogmatiq/changefeed"
	"github.com/dogmatiq/changefeed/fixtures"
	"go.mongodb.org/mongo-driver/bson"
)

// Response is the scripted outcome of a single command.
type Response struct {
	// Reply is the reply document returned if Err is nil.
	Reply bson.Raw

	// Err is the error returned by the command.
	Err error

	// Block, if non-nil, delays the response until it is closed or the
	// command's context is canceled.
	Block <-chan struct{}

	// IgnoreContext causes a blocked response to wait for Block to be closed
	// even if the command's context is canceled, as though the reply was
	// already on the wire.
	IgnoreContext bool
}

// Server is an implementation of changefeed.Executor that replies to commands
// with scripted responses, and records every command it receives.
//
// Commands that have no scripted response behave as follows: killCursors
// succeeds, getMore blocks until its context is canceled (as though there are
// no new events) and anything else fails.
type Server struct {
	// Description is the server description attached to each reply.
	Description changefeed.ServerDescription

	m         sync.Mutex
	commands  []changefeed.Command
	responses map[string][]Response
	executed  chan struct{}
}

var _ changefeed.Executor = (*Server)(nil)

// On adds responses to the queue of responses for the command with the given
// name.
func (s *Server) On(name string, responses ...Response) {
	s.m.Lock()
	defer s.m.Unlock()

	if s.responses == nil {
		s.responses = map[string][]Response{}
	}

	s.responses[name] = append(s.responses[name], responses...)
}

// OnAggregate queues a successful reply to an aggregate command.
func (s *Server) OnAggregate(r fixtures.CursorReply) {
	s.On("aggregate", Response{Reply: r.Aggregate()})
}

// OnGetMore queues a successful reply to a getMore command.
func (s *Server) OnGetMore(r fixtures.CursorReply) {
	s.On("getMore", Response{Reply: r.GetMore()})
}

// Fail queues a failure of the command with the given name.
func (s *Server) Fail(name string, err error) {
	s.On(name, Response{Err: err})
}

// Execute runs cmd and returns the server's reply.
func (s *Server) Execute(ctx context.Context, cmd changefeed.Command) (changefeed.Reply, error) {
	name := cmd.Name()

	s.m.Lock()
	s.commands = append(s.commands, cmd)

	var (
		r  Response
		ok bool
	)

	if q := s.responses[name]; len(q) > 0 {
		r, ok = q[0], true
		s.responses[name] = q[1:]
	}

	if s.executed != nil {
		close(s.executed)
		s.executed = nil
	}
	s.m.Unlock()

	if !ok {
		switch name {
		case "killCursors":
			r = Response{Reply: fixtures.OK}
		case "getMore":
			<-ctx.Done()
			return changefeed.Reply{}, ctx.Err()
		default:
			return changefeed.Reply{}, fmt.Errorf("no response scripted for %s command", name)
		}
	}

	if r.Block != nil && r.IgnoreContext {
		<-r.Block
	} else if r.Block != nil {
		select {
		case <-ctx.Done():
			return changefeed.Reply{}, ctx.Err()
		case <-r.Block:
		}
	}

	if r.Err != nil {
		return changefeed.Reply{}, r.Err
	}

	return changefeed.Reply{
		Document: r.Reply,
		Server:   s.Description,
	}, nil
}

// Commands returns the commands received so far with any of the given names.
// If no names are given, all commands are returned.
func (s *Server) Commands(names ...string) []changefeed.Command {
	s.m.Lock()
	defer s.m.Unlock()

	var matches []changefeed.Command

	for _, cmd := range s.commands {
		if len(names) == 0 || slices.Contains(names, cmd.Name()) {
			matches = append(matches, cmd)
		}
	}

	return matches
}

// Count returns the number of commands received so far with the given name.
func (s *Server) Count(name string) int {
	return len(s.Commands(name))
}

// Executed returns a channel that is closed when the next command is
// received.
func (s *Server) Executed() <-chan struct{} {
	s.m.Lock()
	defer s.m.Unlock()

	if s.executed == nil {
		s.executed = make(chan struct{})
	}

	return s.executed
}

// Stage returns the $changeStream stage of an aggregate command.
func Stage(cmd changefeed.Command) bson.D {
	for _, e := range cmd.Document {
		if e.Key != "pipeline" {
			continue
		}

		stages := e.Value.(bson.A)
		first := stages[0].(bson.D)

		return first[0].Value.(bson.D)
	}

	panic("command does not have a pipeline")
}

// Field returns the value of the field named k in d, or nil if there is no
// such field.
func Field(d bson.D, k string) any {
	for _, e := range d {
		if e.Key == k {
			return e.Value
		}
	}

	return nil
}
