package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/dogmatiq/changefeed/tokenstore"
	"go.mongodb.org/mongo-driver/bson"
)

// Store is an implementation of tokenstore.Store that keeps tokens in memory.
//
// It is intended for tests and for processes that only need to survive the
// loss of individual streams, not of the process itself.
type Store struct {
	m      sync.RWMutex
	tokens map[string]bson.Raw
}

var _ tokenstore.Store = (*Store)(nil)

// Load returns the token stored under key.
func (s *Store) Load(ctx context.Context, key string) (bson.Raw, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.m.RLock()
	defer s.m.RUnlock()

	token, ok := s.tokens[key]
	return slices.Clone(token), ok, nil
}

// Save stores token under key, replacing any existing token.
func (s *Store) Save(ctx context.Context, key string, token bson.Raw) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.m.Lock()
	defer s.m.Unlock()

	if s.tokens == nil {
		s.tokens = map[string]bson.Raw{}
	}

	s.tokens[key] = slices.Clone(token)

	return nil
}
