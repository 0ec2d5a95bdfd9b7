// Package notify delivers ops alerts about poller health. The poll loop
// calls these inline, so implementations hand off to a goroutine and never
// block.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	slackgo "github.com/slack-go/slack"
)

// Noop satisfies hub.Notifier when no alert destination is configured.
type Noop struct{}

func (Noop) PollerPaused(token, reason string)      {}
func (Noop) PollerResumed(token string)             {}
func (Noop) ConflictStorm(token string, streak int) {}

// Slack posts alerts to an ops channel.
type Slack struct {
	client  *slackgo.Client
	channel string
}

func NewSlack(botToken, channel string) *Slack {
	return &Slack{
		client:  slackgo.New(botToken),
		channel: channel,
	}
}

func (s *Slack) PollerPaused(token, reason string) {
	s.post(fmt.Sprintf(":pause_button: poller `%s` paused: %s", token, reason))
}

func (s *Slack) PollerResumed(token string) {
	s.post(fmt.Sprintf(":arrow_forward: poller `%s` resumed", token))
}

func (s *Slack) ConflictStorm(token string, streak int) {
	s.post(fmt.Sprintf(":rotating_light: poller `%s` hit %d consecutive getUpdates conflicts, another poller is running on this token", token, streak))
}

// post sends asynchronously; a failed alert is a log line, never an error on
// the poll path.
func (s *Slack) post(text string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _, err := s.client.PostMessageContext(ctx, s.channel,
			slackgo.MsgOptionText(text, false))
		if err != nil {
			slog.Warn("notify: slack post failed", "err", err)
		}
	}()
}
