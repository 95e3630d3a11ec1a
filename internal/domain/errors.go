package domain

import "errors"

var (
	// ErrRoomNotFound is returned when a room code does not identify an active room.
	ErrRoomNotFound = errors.New("room not found")
	// ErrScopeMismatch is returned when a joiner's scope does not match a restricted room.
	ErrScopeMismatch = errors.New("room is restricted to a different scope")
	// ErrNotHost is returned when a non-host participant issues start or reset.
	ErrNotHost = errors.New("only the host may control the room")
	// ErrParticipantNotFound is returned when a user acts before joining.
	ErrParticipantNotFound = errors.New("participant has not joined the room")
	// ErrNotAcceptingAnswers is returned for submissions outside the playing phase.
	ErrNotAcceptingAnswers = errors.New("room is not accepting answers")
	// ErrAlreadyAnswered is returned for a repeat submission on the same question.
	ErrAlreadyAnswered = errors.New("question already answered")
	// ErrNoQuestions indicates the room has no usable question snapshots.
	ErrNoQuestions = errors.New("no questions available")
	// ErrBankNotFound indicates the question bank could not be loaded.
	ErrBankNotFound = errors.New("question bank not found")
	// ErrChoiceNotFound indicates a submitted choice id is not part of the question.
	ErrChoiceNotFound = errors.New("choice not found")
	// ErrInvalidTransition is returned when start is issued outside the lobby.
	ErrInvalidTransition = errors.New("invalid room state transition")
	// ErrCodeSpaceExhausted is returned when room-code generation keeps colliding.
	ErrCodeSpaceExhausted = errors.New("could not allocate a unique room code")
)
