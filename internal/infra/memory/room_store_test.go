package memory

import (
	"testing"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

func TestRoomStoreLifecycle(t *testing.T) {
	store := NewRoomStore()

	session := app.NewSession(domain.Room{Code: "482913", Status: domain.StatusLobby})
	if !store.Register("482913", session) {
		t.Fatalf("expected registration to succeed")
	}
	if store.Register("482913", app.NewSession(domain.Room{Code: "482913"})) {
		t.Fatalf("expected duplicate code to be rejected")
	}
	if _, ok := store.Get("482913"); !ok {
		t.Fatalf("expected session present")
	}

	if !store.DeleteIfEmpty("482913") {
		t.Fatalf("expected empty room to be removed")
	}
	if _, ok := store.Get("482913"); ok {
		t.Fatalf("expected session removed when empty")
	}
}
