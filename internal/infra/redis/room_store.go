package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

// RoomStore is a Redis-aware implementation of app.RoomRepository and
// app.RoomPersister.
// Notes:
//   - It keeps a local in-memory map of sessions to reuse the in-process
//     broadcast logic; Redis holds the durable mirror of room state, roster,
//     and answered-once markers.
//   - The code claim is a SET NX, so two instances can never mint the same
//     room code.
//   - The answered marker is a set membership add, so a retried submission is
//     rejected even when it arrives on another instance.
type RoomStore struct {
	client *redis.Client
	ttl    time.Duration
	mu     sync.RWMutex
	rooms  map[string]*app.Session
}

func NewRoomStore(client *redis.Client, ttl time.Duration) *RoomStore {
	return &RoomStore{
		client: client,
		ttl:    ttl,
		rooms:  make(map[string]*app.Session),
	}
}

func (s *RoomStore) Register(code string, session *app.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[code]; ok {
		return false
	}
	claimed, err := s.client.SetNX(context.Background(), s.liveKey(code), "1", s.ttl).Result()
	if err == nil && !claimed {
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
	if !session.IsEmpty() {
		return false
	}
	delete(s.rooms, code)
	_ = s.client.Del(context.Background(),
		s.liveKey(code), s.stateKey(code), s.playersKey(code), s.answeredKey(code)).Err()
	return true
}

// SaveState mirrors the synchronized room view into a hash per room.
func (s *RoomStore) SaveState(ctx context.Context, state domain.RoomState) error {
	key := s.stateKey(state.Code)
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key,
		"status", string(state.Status),
		"questionIndex", state.QuestionIndex,
		"totalQuestions", state.TotalQuestions,
		"timePerQuestion", state.TimePerQuestion,
		"timer", state.Timer,
	)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
		pipe.Expire(ctx, s.liveKey(state.Code), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save room state: %w", err)
	}
	return nil
}

// SavePlayer mirrors one roster row, keyed by participant id.
func (s *RoomStore) SavePlayer(ctx context.Context, player domain.Player) error {
	data, err := json.Marshal(player)
	if err != nil {
		return fmt.Errorf("marshal player: %w", err)
	}
	key := s.playersKey(player.RoomCode)
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, player.ParticipantID, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save player: %w", err)
	}
	return nil
}

// MarkAnswered records that the participant used their single attempt for the
// question. The set add is atomic: false means some earlier submission,
// possibly via another instance, already claimed it.
func (s *RoomStore) MarkAnswered(ctx context.Context, code, participantID string, questionIndex int) (bool, error) {
	member := participantID + ":" + strconv.Itoa(questionIndex)
	added, err := s.client.SAdd(ctx, s.answeredKey(code), member).Result()
	if err != nil {
		return false, fmt.Errorf("mark answered: %w", err)
	}
	if s.ttl > 0 {
		_ = s.client.Expire(ctx, s.answeredKey(code), s.ttl).Err()
	}
	return added == 1, nil
}

// ClearAnswered drops all markers for the room; used on reset to lobby.
func (s *RoomStore) ClearAnswered(ctx context.Context, code string) error {
	if err := s.client.Del(ctx, s.answeredKey(code)).Err(); err != nil {
		return fmt.Errorf("clear answered: %w", err)
	}
	return nil
}

func (s *RoomStore) liveKey(code string) string {
	return "room:" + code
}

func (s *RoomStore) stateKey(code string) string {
	return "room:" + code + ":state"
}

func (s *RoomStore) playersKey(code string) string {
	return "room:" + code + ":players"
}

func (s *RoomStore) answeredKey(code string) string {
	return "room:" + code + ":answered"
}
