package http

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/infra/memory"
)

func TestWebSocketAnswerFlow(t *testing.T) {
	store := memory.NewRoomStore()
	banks := memory.NewBankRepository(memory.NewStaticBankLoader(sampleBanks()), time.Minute)
	// A short tick interval runs the 5-tick countdown in a tenth of a second.
	service := app.NewRoomService(store, banks, app.Options{
		TickInterval: 20 * time.Millisecond,
		Rand:         rand.New(rand.NewSource(1)),
	})
	defer service.Close()

	wsHandler := NewWSHandler(service)
	roomsHandler := NewRoomsHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/rooms", roomsHandler.CreateRoom)
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	server := httptest.NewServer(mux)
	defer server.Close()

	code := createRoomOverHTTP(t, server.URL)

	u := "ws" + server.URL[len("http"):] + "/ws?roomCode=" + code + "&userId=host&name=Alice"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Expect joined event first.
	msgType, payload := readNext(conn, t, "joined")
	if msgType != "joined" {
		t.Fatalf("expected joined, got %s", msgType)
	}
	if payload == nil {
		t.Fatalf("expected joined payload, got nil")
	}

	// Host starts the room and waits for the countdown to hand over to playing.
	if err := conn.WriteJSON(map[string]any{"type": "start"}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	waitForStatus(conn, t, string(domain.StatusPlaying))

	// Send the correct answer for question 1.
	answer := map[string]any{
		"type": "answer",
		"payload": map[string]any{
			"choiceId": "b",
		},
	}
	if err := conn.WriteJSON(answer); err != nil {
		t.Fatalf("write answer: %v", err)
	}

	// Expect answerResult then a roster update carrying the new score.
	answerSeen := false
	rosterSeen := false
	for i := 0; i < 50; i++ {
		typ, payload := readNext(conn, t, "")
		switch typ {
		case "answerResult":
			answerSeen = true
			if correct, _ := payload["correct"].(bool); !correct {
				t.Fatalf("expected correct answer, got %+v", payload)
			}
			awarded, _ := payload["awarded"].(float64)
			if awarded < 50 || awarded > 100 {
				t.Fatalf("expected award within [50,100], got %v", awarded)
			}
		case "roster":
			rosterSeen = true
		}
		if answerSeen && rosterSeen {
			break
		}
	}
	if !answerSeen || !rosterSeen {
		t.Fatalf("expected answerResult and roster, got answerResult=%v roster=%v", answerSeen, rosterSeen)
	}

	// A repeat submission is rejected by the store, not the client.
	if err := conn.WriteJSON(answer); err != nil {
		t.Fatalf("write repeat answer: %v", err)
	}
	for i := 0; i < 50; i++ {
		typ, payload := readNext(conn, t, "")
		if typ == "error" {
			if msg, _ := payload["message"].(string); msg != domain.ErrAlreadyAnswered.Error() {
				t.Fatalf("expected already-answered error, got %q", msg)
			}
			return
		}
	}
	t.Fatalf("expected error for repeat submission")
}

func TestWebSocketRejectsUnknownRoom(t *testing.T) {
	store := memory.NewRoomStore()
	banks := memory.NewBankRepository(memory.NewStaticBankLoader(sampleBanks()), time.Minute)
	service := app.NewRoomService(store, banks, app.Options{})
	defer service.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", NewWSHandler(service).ServeWS)
	server := httptest.NewServer(mux)
	defer server.Close()

	u := "ws" + server.URL[len("http"):] + "/ws?roomCode=999999&userId=u1&name=Alice"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	typ, payload := readNext(conn, t, "error")
	if typ != "error" {
		t.Fatalf("expected error, got %s", typ)
	}
	if msg, _ := payload["message"].(string); msg != domain.ErrRoomNotFound.Error() {
		t.Fatalf("expected room-not-found message, got %q", msg)
	}
}

func createRoomOverHTTP(t *testing.T, baseURL string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]any{
		"hostId":          "host",
		"hostName":        "Alice",
		"bankId":          "bank-1",
		"timePerQuestion": 20,
	})
	resp, err := http.Post(baseURL+"/rooms", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var state domain.RoomState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if len(state.Code) != 6 {
		t.Fatalf("expected 6-digit code, got %q", state.Code)
	}
	return state.Code
}

func waitForStatus(conn *websocket.Conn, t *testing.T, status string) {
	t.Helper()
	for i := 0; i < 50; i++ {
		typ, payload := readNext(conn, t, "")
		if typ != "state" {
			continue
		}
		state, _ := payload["state"].(map[string]any)
		if state == nil {
			continue
		}
		if got, _ := state["status"].(string); got == status {
			return
		}
	}
	t.Fatalf("never observed status %s", status)
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s", expect, msg.Type)
	}
	return msg.Type, msg.Payload
}

func sampleBanks() map[string]domain.QuestionBank {
	choices := []domain.Choice{
		{ID: "a", Text: "3"},
		{ID: "b", Text: "4"},
		{ID: "c", Text: "5"},
		{ID: "d", Text: "22"},
	}
	return map[string]domain.QuestionBank{
		"bank-1": {
			ID: "bank-1",
			Questions: []domain.BankQuestion{
				{Text: "What is 2 + 2?", Choices: choices, Correct: "b"},
				{Text: "Still 2 + 2?", Choices: choices, Correct: "b"},
			},
		},
	}
}
