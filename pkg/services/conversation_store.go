package services

import (
	"context"
	"sync"

	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
)

// ConversationStore keeps each user's conversation and serializes that user's
// pipeline runs.
type ConversationStore interface {
	// Lock blocks until no other run for userID holds the lock. The returned
	// func releases it and is safe to call more than once.
	Lock(ctx context.Context, userID string) (unlock func(), err error)

	// Get returns a copy of the user's conversation.
	Get(userID string) *models.ConversationContext

	// Append records a successful turn. History is append-only; callers bound
	// what they read with ConversationContext.LastTurns.
	Append(userID, question string, candidate models.CandidateQuery, snapshotRef string)
}

type userLock struct {
	ch   chan struct{}
	refs int
}

type conversationStore struct {
	mu            sync.Mutex
	locks         map[string]*userLock
	conversations map[string]*models.ConversationContext
}

// NewConversationStore creates an in-memory store.
func NewConversationStore() ConversationStore {
	return &conversationStore{
		locks:         make(map[string]*userLock),
		conversations: make(map[string]*models.ConversationContext),
	}
}

var _ ConversationStore = (*conversationStore)(nil)

func (s *conversationStore) Lock(ctx context.Context, userID string) (func(), error) {
	s.mu.Lock()
	l, ok := s.locks[userID]
	if !ok {
		l = &userLock{ch: make(chan struct{}, 1)}
		s.locks[userID] = l
	}
	l.refs++
	s.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		s.dropRef(userID, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			s.dropRef(userID, l)
		})
	}, nil
}

func (s *conversationStore) dropRef(userID string, l *userLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, userID)
	}
}

func (s *conversationStore) Get(userID string) *models.ConversationContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[userID]
	if !ok {
		return &models.ConversationContext{UserID: userID}
	}
	return c.Clone()
}

func (s *conversationStore) Append(userID, question string, candidate models.CandidateQuery, snapshotRef string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[userID]
	if !ok {
		c = &models.ConversationContext{UserID: userID}
		s.conversations[userID] = c
	}
	candidate.ReferencedTables = append([]string(nil), candidate.ReferencedTables...)
	c.Append(question, candidate, snapshotRef)
}
