// Package reconcile folds bot membership updates into the durable
// chat-membership projection the console reads, and schedules periodic
// sweeps so the projection converges even if a stream consumer lost events.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/botfleet/botfleet/internal/hub"
	"github.com/botfleet/botfleet/internal/store"
)

const membershipPrefix = "membership/"

// Membership is one row of the projection: the bot's standing in one chat.
type Membership struct {
	ChatID    int64     `json:"chat_id"`
	Title     string    `json:"title"`
	Type      string    `json:"type"`
	Status    string    `json:"status"` // creator|administrator|member|restricted|left|kicked
	UpdatedAt time.Time `json:"updated_at"`
}

// Joined reports whether the status means the bot is currently in the chat.
func (m Membership) Joined() bool {
	switch m.Status {
	case "creator", "administrator", "member", "restricted":
		return true
	default:
		return false
	}
}

// Applier applies batches of membership events to the projection. This is the
// "reconcile now" entry point: callers hand it events drained from a fresh
// subscription.
type Applier struct {
	s *store.Store
}

func NewApplier(s *store.Store) *Applier { return &Applier{s: s} }

// Apply folds my_chat_member events into the projection for credentialID.
// Non-membership events are skipped. Within the batch, later events win,
// matching upstream ordering. Returns how many rows were written.
func (a *Applier) Apply(ctx context.Context, credentialID string, events []hub.Event) (int, error) {
	rows := make(map[int64]Membership)
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		upd := ev.Update.MyChatMember
		if !ev.IsMembership() || upd == nil {
			continue
		}
		rows[upd.Chat.ID] = Membership{
			ChatID:    upd.Chat.ID,
			Title:     upd.Chat.Title,
			Type:      upd.Chat.Type,
			Status:    upd.NewChatMember.Status,
			UpdatedAt: time.Unix(int64(upd.Date), 0).UTC(),
		}
	}
	for chatID, row := range rows {
		raw, err := json.Marshal(row)
		if err != nil {
			return 0, fmt.Errorf("marshal membership row: %w", err)
		}
		key := membershipPrefix + credentialID + "/" + strconv.FormatInt(chatID, 10)
		if err := a.s.Set(key, raw); err != nil {
			return 0, err
		}
	}
	if len(rows) > 0 {
		slog.Info("reconcile: membership applied", "credential", credentialID, "rows", len(rows))
	}
	return len(rows), nil
}

// Chats returns the projection for one credential, ordered by chat id.
func (a *Applier) Chats(credentialID string) ([]Membership, error) {
	var out []Membership
	err := a.s.Iterate(membershipPrefix+credentialID+"/", func(_ string, value []byte) bool {
		var m Membership
		if err := json.Unmarshal(value, &m); err == nil {
			out = append(out, m)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, nil
}
