package domain

import "time"

// RoomStatus is the phase of a quiz room's lifecycle.
type RoomStatus string

const (
	// StatusLobby accepts joins; no questions are open.
	StatusLobby RoomStatus = "lobby"
	// StatusCountdown is the fixed pre-game countdown; answers are rejected.
	StatusCountdown RoomStatus = "countdown"
	// StatusPlaying has the current question open for answers.
	StatusPlaying RoomStatus = "playing"
	// StatusFinished is terminal; the scoreboard is final until a reset.
	StatusFinished RoomStatus = "finished"
)

// CountdownSeconds is the fixed length of the pre-game countdown.
const CountdownSeconds = 5

// Choice is one of a question's answer options.
type Choice struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// QuestionSnapshot is an immutable copy of a question embedded into a room at
// creation time. Later edits to the question bank never reach a live room.
type QuestionSnapshot struct {
	Text        string   `json:"text"`
	ImageRef    string   `json:"imageRef,omitempty"`
	Choices     []Choice `json:"choices"`
	Correct     ChoiceID `json:"correct"`
	Explanation string   `json:"explanation,omitempty"`
}

// BankQuestion is the authored form of a question as stored in the bank. The
// correct-answer field may be a choice id, an id with stray punctuation, or a
// bare 1-based ordinal; snapshot ingestion resolves it to a canonical ChoiceID.
type BankQuestion struct {
	Text        string   `json:"text"`
	ImageRef    string   `json:"imageRef,omitempty"`
	Choices     []Choice `json:"choices"`
	Correct     string   `json:"correct"`
	Explanation string   `json:"explanation,omitempty"`
}

// QuestionBank is an ordered collection of authored questions.
type QuestionBank struct {
	ID        string         `json:"id"`
	Subject   string         `json:"subject,omitempty"`
	Grade     string         `json:"grade,omitempty"`
	Questions []BankQuestion `json:"questions"`
}

// Room is the authoritative record for one active quiz room. The progression
// loop is the sole writer of Status, QuestionIndex, and Timer once started.
type Room struct {
	Code            string
	Status          RoomStatus
	QuestionIndex   int
	Questions       []QuestionSnapshot
	TimePerQuestion int
	Timer           int
	Subject         string
	Grade           string
	ScopeID         string
	HostID          string
	CreatedAt       time.Time
}

// Player is one joined identity in a room, keyed by (room code, participant id).
type Player struct {
	RoomCode      string `json:"roomCode"`
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
	AvatarRef     string `json:"avatarRef,omitempty"`
	Score         int    `json:"score"`
	Online        bool   `json:"online"`
}

// Identity is the shape supplied by the identity provider when joining.
type Identity struct {
	ID        string
	Name      string
	AvatarRef string
	Scope     string
}

// RoomState is the synchronized view every participant mirror converges on.
type RoomState struct {
	Code            string     `json:"code"`
	Status          RoomStatus `json:"status"`
	QuestionIndex   int        `json:"questionIndex"`
	TotalQuestions  int        `json:"totalQuestions"`
	TimePerQuestion int        `json:"timePerQuestion"`
	Timer           int        `json:"timer"`
}

// EventType distinguishes the two change-notification streams of a room.
type EventType string

const (
	// EventState carries the status/question/timer triple after a transition or tick.
	EventState EventType = "state"
	// EventRoster carries the full scoreboard after any player change.
	EventRoster EventType = "roster"
)

// RoomEvent is one change notification fanned out to all subscribers of a room.
type RoomEvent struct {
	Type    EventType  `json:"type"`
	State   *RoomState `json:"state,omitempty"`
	Players []Player   `json:"players,omitempty"`
	At      time.Time  `json:"at"`
}

// AnswerResult summarizes the outcome of one submission for one participant.
type AnswerResult struct {
	QuestionIndex int  `json:"questionIndex"`
	Correct       bool `json:"correct"`
	Awarded       int  `json:"awarded"`
	TotalScore    int  `json:"totalScore"`
}
