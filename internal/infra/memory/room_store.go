package memory

import (
	"sync"

	"quizroom-service/internal/app"
)

// RoomStore is an in-memory implementation of app.RoomRepository.
type RoomStore struct {
	mu    sync.RWMutex
	rooms map[string]*app.Session
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms: make(map[string]*app.Session),
	}
}

// Register claims the code for the session; false means the code is taken,
// which the service treats as a collision to retry.
func (s *RoomStore) Register(code string, session *app.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[code]; ok {
		return false
	}
	s.rooms[code] = session
	return true
}

func (s *RoomStore) Get(code string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.rooms[code]
	return session, ok
}

func (s *RoomStore) DeleteIfEmpty(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.rooms[code]
	if !ok {
		return false
	}
	if session.IsEmpty() {
		delete(s.rooms, code)
		return true
	}
	return false
}
