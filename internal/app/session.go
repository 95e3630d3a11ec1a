package app

import (
	"sort"
	"sync"
	"time"

	"quizroom-service/internal/domain"
)

// Session is the in-process authoritative state of one room: the room record,
// the roster, the answered-once markers, and the subscriber fan-out.
type Session struct {
	mu          sync.RWMutex
	room        domain.Room
	players     map[string]*roomPlayer
	answered    map[answerKey]struct{}
	subscribers map[chan domain.RoomEvent]struct{}
	now         func() time.Time
}

type roomPlayer struct {
	domain.Player
	lastUpdated time.Time
}

type answerKey struct {
	participantID string
	questionIndex int
}

// answerClaim captures everything the scoring engine needs at submission time,
// read atomically with the answered-once mark.
type answerClaim struct {
	questionIndex int
	remaining     int
	question      domain.QuestionSnapshot
}

// NewSession is exported for infrastructure layers that need to seed sessions.
func NewSession(room domain.Room) *Session {
	return newSessionWithClock(room, time.Now)
}

func newSessionWithClock(room domain.Room, now func() time.Time) *Session {
	return &Session{
		room:        room,
		players:     make(map[string]*roomPlayer),
		answered:    make(map[answerKey]struct{}),
		subscribers: make(map[chan domain.RoomEvent]struct{}),
		now:         now,
	}
}

// Code returns the room code the session was registered under.
func (s *Session) Code() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room.Code
}

// State returns the current synchronized view of the room.
func (s *Session) State() domain.RoomState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked()
}

// Roster returns the sorted scoreboard.
func (s *Session) Roster() []domain.Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rosterLocked()
}

// IsEmpty reports whether no participant is currently online.
func (s *Session) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.players {
		if p.Online {
			return false
		}
	}
	return true
}

// join upserts a player row keyed by participant id. Repeat joins refresh name
// and presence but never touch the score.
func (s *Session) join(identity domain.Identity) (domain.Player, domain.RoomEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.room.ScopeID != "" && identity.Scope != s.room.ScopeID {
		return domain.Player{}, domain.RoomEvent{}, domain.ErrScopeMismatch
	}

	now := s.now()
	player, ok := s.players[identity.ID]
	if ok {
		player.Name = identity.Name
		player.AvatarRef = identity.AvatarRef
		player.Online = true
		player.lastUpdated = now
	} else {
		player = &roomPlayer{
			Player: domain.Player{
				RoomCode:      s.room.Code,
				ParticipantID: identity.ID,
				Name:          identity.Name,
				AvatarRef:     identity.AvatarRef,
				Online:        true,
			},
			lastUpdated: now,
		}
		s.players[identity.ID] = player
	}
	return player.Player, s.broadcastRosterLocked(), nil
}

// setOffline marks presence without removing the row.
func (s *Session) setOffline(participantID string) (domain.RoomEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	player, ok := s.players[participantID]
	if !ok {
		return domain.RoomEvent{}, false
	}
	player.Online = false
	player.lastUpdated = s.now()
	return s.broadcastRosterLocked(), true
}

// start performs LOBBY -> COUNTDOWN. Host only.
func (s *Session) start(participantID string) (domain.RoomState, domain.RoomEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if participantID != s.room.HostID {
		return domain.RoomState{}, domain.RoomEvent{}, domain.ErrNotHost
	}
	if s.room.Status != domain.StatusLobby {
		return domain.RoomState{}, domain.RoomEvent{}, domain.ErrInvalidTransition
	}
	if len(s.room.Questions) == 0 {
		return domain.RoomState{}, domain.RoomEvent{}, domain.ErrNoQuestions
	}
	s.room.Status = domain.StatusCountdown
	s.room.QuestionIndex = 0
	s.room.Timer = domain.CountdownSeconds
	return s.stateLocked(), s.broadcastStateLocked(), nil
}

// reset returns the room to the lobby from any state. Host only. Scores are
// cleared or preserved per the service's configured policy.
func (s *Session) reset(participantID string, clearScores bool) (domain.RoomState, []domain.RoomEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if participantID != s.room.HostID {
		return domain.RoomState{}, nil, domain.ErrNotHost
	}
	s.room.Status = domain.StatusLobby
	s.room.QuestionIndex = 0
	s.room.Timer = 0
	s.answered = make(map[answerKey]struct{})
	if clearScores {
		now := s.now()
		for _, p := range s.players {
			p.Score = 0
			p.lastUpdated = now
		}
	}
	events := []domain.RoomEvent{s.broadcastStateLocked(), s.broadcastRosterLocked()}
	return s.stateLocked(), events, nil
}

// tick advances the room by one second and applies the transition table when a
// counter runs out. It returns the persisted state, the broadcast event, and
// whether another tick should be scheduled. The timer may go transiently
// negative inside the tick but is normalized before the state is observable.
func (s *Session) tick() (domain.RoomState, domain.RoomEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.room.Status {
	case domain.StatusCountdown:
		s.room.Timer--
		if s.room.Timer <= 0 {
			s.room.Status = domain.StatusPlaying
			s.room.QuestionIndex = 0
			s.room.Timer = s.room.TimePerQuestion
		}
		return s.stateLocked(), s.broadcastStateLocked(), true
	case domain.StatusPlaying:
		s.room.Timer--
		if s.room.Timer < 0 {
			if s.room.QuestionIndex+1 < len(s.room.Questions) {
				s.room.QuestionIndex++
				s.room.Timer = s.room.TimePerQuestion
			} else {
				s.room.Status = domain.StatusFinished
				s.room.Timer = 0
				return s.stateLocked(), s.broadcastStateLocked(), false
			}
		}
		return s.stateLocked(), s.broadcastStateLocked(), true
	default:
		return s.stateLocked(), domain.RoomEvent{}, false
	}
}

// claimAnswer validates a submission and consumes the participant's single
// attempt for the current question, returning the data scoring needs.
func (s *Session) claimAnswer(participantID, choiceID string) (answerClaim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.room.Status != domain.StatusPlaying {
		return answerClaim{}, domain.ErrNotAcceptingAnswers
	}
	if _, ok := s.players[participantID]; !ok {
		return answerClaim{}, domain.ErrParticipantNotFound
	}
	question := s.room.Questions[s.room.QuestionIndex]
	if !choiceExists(question.Choices, choiceID) {
		return answerClaim{}, domain.ErrChoiceNotFound
	}

	key := answerKey{participantID: participantID, questionIndex: s.room.QuestionIndex}
	if _, ok := s.answered[key]; ok {
		return answerClaim{}, domain.ErrAlreadyAnswered
	}
	s.answered[key] = struct{}{}

	return answerClaim{
		questionIndex: s.room.QuestionIndex,
		remaining:     s.room.Timer,
		question:      question,
	}, nil
}

func choiceExists(choices []domain.Choice, raw string) bool {
	want := domain.NormalizeChoiceID(raw)
	for _, c := range choices {
		if domain.NormalizeChoiceID(c.ID) == want {
			return true
		}
	}
	return false
}

// applyScore adds points to the participant's own row and broadcasts the
// roster. Zero-point calls leave the scoreboard untouched.
func (s *Session) applyScore(participantID string, points int) (domain.Player, domain.RoomEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	player, ok := s.players[participantID]
	if !ok {
		return domain.Player{}, domain.RoomEvent{}, domain.ErrParticipantNotFound
	}
	if points <= 0 {
		return player.Player, domain.RoomEvent{}, nil
	}
	player.Score += points
	player.lastUpdated = s.now()
	return player.Player, s.broadcastRosterLocked(), nil
}

func (s *Session) subscribe() (<-chan domain.RoomEvent, func()) {
	ch := make(chan domain.RoomEvent, 8)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	state := domain.RoomEvent{Type: domain.EventState, At: s.now()}
	st := s.stateLocked()
	state.State = &st
	roster := domain.RoomEvent{Type: domain.EventRoster, Players: s.rosterLocked(), At: s.now()}
	s.mu.Unlock()

	ch <- state
	ch <- roster

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Session) broadcastStateLocked() domain.RoomEvent {
	st := s.stateLocked()
	ev := domain.RoomEvent{Type: domain.EventState, State: &st, At: s.now()}
	s.fanOutLocked(ev)
	return ev
}

func (s *Session) broadcastRosterLocked() domain.RoomEvent {
	ev := domain.RoomEvent{Type: domain.EventRoster, Players: s.rosterLocked(), At: s.now()}
	s.fanOutLocked(ev)
	return ev
}

func (s *Session) fanOutLocked(ev domain.RoomEvent) {
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			// Drop the oldest pending event so slow subscribers never block the room.
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
}

func (s *Session) stateLocked() domain.RoomState {
	return domain.RoomState{
		Code:            s.room.Code,
		Status:          s.room.Status,
		QuestionIndex:   s.room.QuestionIndex,
		TotalQuestions:  len(s.room.Questions),
		TimePerQuestion: s.room.TimePerQuestion,
		Timer:           s.room.Timer,
	}
}

func (s *Session) rosterLocked() []domain.Player {
	entries := make([]domain.Player, 0, len(s.players))
	for _, p := range s.players {
		entries = append(entries, p.Player)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		// Tie-break by who reached the score earlier, then name.
		pi := s.players[entries[i].ParticipantID]
		pj := s.players[entries[j].ParticipantID]
		if pi != nil && pj != nil && !pi.lastUpdated.Equal(pj.lastUpdated) {
			return pi.lastUpdated.Before(pj.lastUpdated)
		}
		return entries[i].Name < entries[j].Name
	})
	return entries
}
