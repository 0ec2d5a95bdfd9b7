package reconcile

import (
	"context"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/botfleet/botfleet/internal/hub"
	"github.com/botfleet/botfleet/internal/store"
)

func newTestApplier(t *testing.T) *Applier {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return NewApplier(s)
}

func membershipEvent(seq int64, chatID int64, title, status string) hub.Event {
	return hub.NewEvent(tgbotapi.Update{
		UpdateID: int(seq),
		MyChatMember: &tgbotapi.ChatMemberUpdated{
			Chat:          tgbotapi.Chat{ID: chatID, Type: "supergroup", Title: title},
			Date:          1700000000,
			NewChatMember: tgbotapi.ChatMember{Status: status},
		},
	})
}

func messageEvent(seq int64) hub.Event {
	return hub.NewEvent(tgbotapi.Update{
		UpdateID: int(seq),
		Message:  &tgbotapi.Message{MessageID: int(seq), Text: "noise"},
	})
}

// ─── Apply ─────────────────────────────────────────────────────────────────

func TestApply_WritesMembershipRows(t *testing.T) {
	a := newTestApplier(t)
	n, err := a.Apply(context.Background(), "bot-1", []hub.Event{
		membershipEvent(1, 100, "ops", "member"),
		membershipEvent(2, 200, "announce", "administrator"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("applied %d rows, want 2", n)
	}

	rows, err := a.Chats("bot-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].ChatID != 100 || rows[0].Status != "member" || !rows[0].Joined() {
		t.Fatalf("unexpected row: %+v", rows[0])
	}
	if rows[1].ChatID != 200 || rows[1].Title != "announce" {
		t.Fatalf("unexpected row: %+v", rows[1])
	}
}

func TestApply_LaterEventsWin(t *testing.T) {
	a := newTestApplier(t)
	_, err := a.Apply(context.Background(), "bot-1", []hub.Event{
		membershipEvent(1, 100, "ops", "member"),
		membershipEvent(2, 100, "ops", "left"),
	})
	if err != nil {
		t.Fatal(err)
	}
	rows, _ := a.Chats("bot-1")
	if len(rows) != 1 || rows[0].Status != "left" || rows[0].Joined() {
		t.Fatalf("later event did not win: %+v", rows)
	}
}

func TestApply_SkipsNonMembershipEvents(t *testing.T) {
	a := newTestApplier(t)
	n, err := a.Apply(context.Background(), "bot-1", []hub.Event{
		messageEvent(1),
		messageEvent(2),
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("applied %d rows from message events", n)
	}
}

func TestApply_IsolatedPerCredential(t *testing.T) {
	a := newTestApplier(t)
	a.Apply(context.Background(), "bot-1", []hub.Event{membershipEvent(1, 100, "ops", "member")})
	a.Apply(context.Background(), "bot-2", []hub.Event{membershipEvent(1, 999, "other", "member")})

	rows, _ := a.Chats("bot-1")
	if len(rows) != 1 || rows[0].ChatID != 100 {
		t.Fatalf("projection bled across credentials: %+v", rows)
	}
}

// ─── Membership ────────────────────────────────────────────────────────────

func TestMembership_Joined(t *testing.T) {
	joined := []string{"creator", "administrator", "member", "restricted"}
	for _, s := range joined {
		if !(Membership{Status: s}).Joined() {
			t.Errorf("status %q should count as joined", s)
		}
	}
	for _, s := range []string{"left", "kicked", ""} {
		if (Membership{Status: s}).Joined() {
			t.Errorf("status %q should not count as joined", s)
		}
	}
}
