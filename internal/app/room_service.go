package app

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"quizroom-service/internal/domain"
)

// RoomRepository abstracts how active rooms are stored (in-memory, Redis, etc).
// Register reports false when the code is already taken.
type RoomRepository interface {
	Register(code string, session *Session) bool
	Get(code string) (*Session, bool)
	DeleteIfEmpty(code string) bool
}

// RoomPersister mirrors authoritative session changes into a durable store.
// Stores that implement it receive every state and player write and own the
// cross-instance answered-once marker.
type RoomPersister interface {
	SaveState(ctx context.Context, state domain.RoomState) error
	SavePlayer(ctx context.Context, player domain.Player) error
	MarkAnswered(ctx context.Context, code, participantID string, questionIndex int) (bool, error)
	ClearAnswered(ctx context.Context, code string) error
}

// BankRepository loads question-bank content (from cache/backing store).
type BankRepository interface {
	GetBank(ctx context.Context, bankID string) (domain.QuestionBank, error)
}

// EventSink receives a copy of every broadcast room event, e.g. for NATS fan-out.
type EventSink interface {
	Publish(code string, ev domain.RoomEvent)
}

// Options tunes room behavior. Zero values fall back to sane defaults.
type Options struct {
	Clock clockwork.Clock
	// TickInterval is the wall-clock length of one game second.
	TickInterval time.Duration
	// TimePerQuestion is the default question window in seconds.
	TimePerQuestion int
	// ResetClearsScores selects the reset-to-lobby score policy.
	ResetClearsScores bool
	// CodeAttempts bounds the generate-and-retry loop for room codes.
	CodeAttempts int
	// Rand drives room-code generation; injectable for deterministic tests.
	Rand *rand.Rand
	// Sink, when set, receives every broadcast event.
	Sink EventSink
}

// RoomSpec describes the room a host wants to create.
type RoomSpec struct {
	BankID          string
	Subject         string
	Grade           string
	TimePerQuestion int
	ScopeID         string
}

// RoomService contains the realtime room use cases: creation, joining, the
// host-controlled start/reset transitions, the server-owned progression loop,
// and answer scoring.
type RoomService struct {
	rooms   RoomRepository
	banks   BankRepository
	persist RoomPersister
	sink    EventSink
	loop    *progression
	clock   clockwork.Clock

	rndMu sync.Mutex
	rnd   *rand.Rand

	defaultTimePerQuestion int
	resetClearsScores      bool
	codeAttempts           int
}

func NewRoomService(rooms RoomRepository, banks BankRepository, opts Options) *RoomService {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.TimePerQuestion <= 0 {
		opts.TimePerQuestion = 20
	}
	if opts.CodeAttempts <= 0 {
		opts.CodeAttempts = 5
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	svc := &RoomService{
		rooms:                  rooms,
		banks:                  banks,
		sink:                   opts.Sink,
		loop:                   newProgression(opts.Clock, opts.TickInterval),
		clock:                  opts.Clock,
		rnd:                    opts.Rand,
		defaultTimePerQuestion: opts.TimePerQuestion,
		resetClearsScores:      opts.ResetClearsScores,
		codeAttempts:           opts.CodeAttempts,
	}
	if p, ok := rooms.(RoomPersister); ok {
		svc.persist = p
	}
	return svc
}

// Close disarms all progression timers; used on shutdown.
func (svc *RoomService) Close() {
	svc.loop.close()
}

// CreateRoom snapshots the bank's questions into a new lobby room under a
// freshly allocated 6-digit code and joins the host. Codes are retried on
// collision rather than silently reused.
func (svc *RoomService) CreateRoom(ctx context.Context, host domain.Identity, spec RoomSpec) (domain.RoomState, error) {
	bank, err := svc.banks.GetBank(ctx, spec.BankID)
	if err != nil {
		return domain.RoomState{}, err
	}
	questions := domain.SnapshotQuestions(bank)
	if len(questions) == 0 {
		log.Warn().Str("bank", spec.BankID).Msg("bank yielded no usable questions")
	}

	timePerQuestion := spec.TimePerQuestion
	if timePerQuestion <= 0 {
		timePerQuestion = svc.defaultTimePerQuestion
	}

	for attempt := 0; attempt < svc.codeAttempts; attempt++ {
		code := svc.generateCode()
		room := domain.Room{
			Code:            code,
			Status:          domain.StatusLobby,
			Questions:       questions,
			TimePerQuestion: timePerQuestion,
			Subject:         spec.Subject,
			Grade:           spec.Grade,
			ScopeID:         spec.ScopeID,
			HostID:          host.ID,
			CreatedAt:       svc.clock.Now(),
		}
		session := newSessionWithClock(room, svc.clock.Now)
		if !svc.rooms.Register(code, session) {
			continue
		}

		player, ev, err := session.join(host)
		if err != nil {
			// Host scope never mismatches a room the host just configured.
			return domain.RoomState{}, err
		}
		state := session.State()
		if err := svc.persistState(ctx, state); err != nil {
			return domain.RoomState{}, err
		}
		if err := svc.persistPlayer(ctx, player); err != nil {
			return domain.RoomState{}, err
		}
		svc.emit(code, ev)
		log.Info().Str("room", code).Int("questions", len(questions)).Msg("room created")
		return state, nil
	}
	return domain.RoomState{}, domain.ErrCodeSpaceExhausted
}

// Join registers or refreshes a participant in a room. The upsert is keyed by
// participant id, so reconnects never duplicate roster entries or reset scores.
func (svc *RoomService) Join(ctx context.Context, code string, identity domain.Identity) (domain.RoomState, []domain.Player, error) {
	session, ok := svc.rooms.Get(code)
	if !ok {
		return domain.RoomState{}, nil, domain.ErrRoomNotFound
	}
	player, ev, err := session.join(identity)
	if err != nil {
		return domain.RoomState{}, nil, err
	}
	if err := svc.persistPlayer(ctx, player); err != nil {
		return domain.RoomState{}, nil, err
	}
	svc.emit(code, ev)
	return session.State(), session.Roster(), nil
}

// Start moves a lobby room into the countdown and arms the progression loop.
func (svc *RoomService) Start(ctx context.Context, code, participantID string) (domain.RoomState, error) {
	session, ok := svc.rooms.Get(code)
	if !ok {
		return domain.RoomState{}, domain.ErrRoomNotFound
	}
	state, ev, err := session.start(participantID)
	if err != nil {
		return domain.RoomState{}, err
	}
	if err := svc.persistState(ctx, state); err != nil {
		return domain.RoomState{}, err
	}
	svc.emit(code, ev)
	svc.loop.arm(code, func() { svc.onTick(code) })
	log.Info().Str("room", code).Msg("room started")
	return state, nil
}

// Reset returns the room to the lobby, disarming any pending tick. The score
// policy is configuration, not hard-coded.
func (svc *RoomService) Reset(ctx context.Context, code, participantID string) (domain.RoomState, error) {
	session, ok := svc.rooms.Get(code)
	if !ok {
		return domain.RoomState{}, domain.ErrRoomNotFound
	}
	state, events, err := session.reset(participantID, svc.resetClearsScores)
	if err != nil {
		return domain.RoomState{}, err
	}
	svc.loop.cancel(code)
	if err := svc.persistState(ctx, state); err != nil {
		return domain.RoomState{}, err
	}
	if svc.persist != nil {
		if err := svc.persist.ClearAnswered(ctx, code); err != nil {
			return domain.RoomState{}, fmt.Errorf("clear answered markers: %w", err)
		}
		for _, player := range session.Roster() {
			if err := svc.persist.SavePlayer(ctx, player); err != nil {
				return domain.RoomState{}, fmt.Errorf("persist player: %w", err)
			}
		}
	}
	for _, ev := range events {
		svc.emit(code, ev)
	}
	log.Info().Str("room", code).Bool("scoresCleared", svc.resetClearsScores).Msg("room reset to lobby")
	return state, nil
}

// onTick advances the room by one game second. The tick is persisted and fanned
// out before the next one is armed, so session writes are strictly ordered.
func (svc *RoomService) onTick(code string) {
	session, ok := svc.rooms.Get(code)
	if !ok {
		return
	}
	state, ev, again := session.tick()
	if err := svc.persistState(context.Background(), state); err != nil {
		log.Error().Err(err).Str("room", code).Msg("tick persistence failed")
	}
	svc.emit(code, ev)
	if again {
		svc.loop.arm(code, func() { svc.onTick(code) })
		return
	}
	if state.Status == domain.StatusFinished {
		log.Info().Str("room", code).Msg("room finished")
	}
}

// SubmitAnswer validates the participant's choice for the current question and
// awards a time-weighted score on a match. Each participant scores each
// question at most once; the marker is enforced by the store, not the client.
func (svc *RoomService) SubmitAnswer(ctx context.Context, code, participantID, choiceID string) (domain.AnswerResult, error) {
	session, ok := svc.rooms.Get(code)
	if !ok {
		return domain.AnswerResult{}, domain.ErrRoomNotFound
	}

	claim, err := session.claimAnswer(participantID, choiceID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	if svc.persist != nil {
		fresh, err := svc.persist.MarkAnswered(ctx, code, participantID, claim.questionIndex)
		if err != nil {
			return domain.AnswerResult{}, fmt.Errorf("mark answered: %w", err)
		}
		if !fresh {
			return domain.AnswerResult{}, domain.ErrAlreadyAnswered
		}
	}

	correct := claim.question.Correct.Matches(choiceID)
	awarded := 0
	if correct {
		awarded = scorePoints(claim.remaining, session.State().TimePerQuestion)
	}

	player, ev, err := session.applyScore(participantID, awarded)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	if awarded > 0 {
		if err := svc.persistPlayer(ctx, player); err != nil {
			return domain.AnswerResult{}, err
		}
		svc.emit(code, ev)
	}
	return domain.AnswerResult{
		QuestionIndex: claim.questionIndex,
		Correct:       correct,
		Awarded:       awarded,
		TotalScore:    player.Score,
	}, nil
}

// Subscribe returns a channel that receives room events. The caller must invoke
// the returned cancel function to avoid leaks.
func (svc *RoomService) Subscribe(_ context.Context, code string) (<-chan domain.RoomEvent, func(), error) {
	session, ok := svc.rooms.Get(code)
	if !ok {
		return nil, nil, domain.ErrRoomNotFound
	}
	ch, cancel := session.subscribe()
	return ch, cancel, nil
}

// Leave marks the participant offline and drops the room once nobody is left.
// The player row and its score survive reconnects; only presence changes.
func (svc *RoomService) Leave(ctx context.Context, code, participantID string) {
	session, ok := svc.rooms.Get(code)
	if !ok {
		return
	}
	ev, changed := session.setOffline(participantID)
	if changed {
		for _, player := range session.Roster() {
			if player.ParticipantID == participantID {
				if err := svc.persistPlayer(ctx, player); err != nil {
					log.Error().Err(err).Str("room", code).Msg("persist presence failed")
				}
				break
			}
		}
		svc.emit(code, ev)
	}
	if svc.rooms.DeleteIfEmpty(code) {
		svc.loop.cancel(code)
		log.Info().Str("room", code).Msg("room dropped, no participants online")
	}
}

// Scoreboard returns the sorted scoreboard; the winner is its first entry.
func (svc *RoomService) Scoreboard(code string) ([]domain.Player, error) {
	session, ok := svc.rooms.Get(code)
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return session.Roster(), nil
}

func (svc *RoomService) generateCode() string {
	svc.rndMu.Lock()
	defer svc.rndMu.Unlock()
	return fmt.Sprintf("%06d", svc.rnd.Intn(1000000))
}

func (svc *RoomService) persistState(ctx context.Context, state domain.RoomState) error {
	if svc.persist == nil {
		return nil
	}
	if err := svc.persist.SaveState(ctx, state); err != nil {
		return fmt.Errorf("persist room state: %w", err)
	}
	return nil
}

func (svc *RoomService) persistPlayer(ctx context.Context, player domain.Player) error {
	if svc.persist == nil {
		return nil
	}
	if err := svc.persist.SavePlayer(ctx, player); err != nil {
		return fmt.Errorf("persist player: %w", err)
	}
	return nil
}

func (svc *RoomService) emit(code string, ev domain.RoomEvent) {
	if svc.sink == nil || ev.Type == "" {
		return
	}
	svc.sink.Publish(code, ev)
}
