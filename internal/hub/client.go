package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// UpstreamClient issues a single getUpdates call. It performs no retries;
// retry and backoff policy belongs to the Poller.
type UpstreamClient interface {
	// Poll requests the next batch starting at cursor, long-polling for up
	// to timeout, restricted to the given update kinds. The returned batch
	// is ordered by Seq and possibly empty. Errors are ErrConflict, a
	// *RateLimitedError, or anything else.
	Poll(ctx context.Context, cursor int64, timeout time.Duration, allow []string) ([]Event, error)
}

// ClientFactory builds an UpstreamClient for one bot token. Construction may
// hit the network (token validation) and is therefore called from the poller
// goroutine, never under the registry lock.
type ClientFactory func(token string) (UpstreamClient, error)

// botClient is the production UpstreamClient on go-telegram-bot-api.
type botClient struct {
	bot *tgbotapi.BotAPI
}

// NewBotClient validates token against the Bot API and returns a client for
// it. The underlying HTTP client carries a hard timeout slightly above the
// longest long poll so a dead upstream can never hang the loop.
func NewBotClient(token string, maxPoll time.Duration) (UpstreamClient, error) {
	httpc := &http.Client{Timeout: maxPoll + 10*time.Second}
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, httpc)
	if err != nil {
		return nil, fmt.Errorf("create bot client: %w", classifyAPIError(err))
	}
	return &botClient{bot: bot}, nil
}

func (c *botClient) Poll(ctx context.Context, cursor int64, timeout time.Duration, allow []string) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u := tgbotapi.UpdateConfig{
		Offset:         int(cursor),
		Timeout:        int(timeout / time.Second),
		AllowedUpdates: allow,
	}
	updates, err := c.bot.GetUpdates(u)
	if err != nil {
		return nil, classifyAPIError(err)
	}
	events := make([]Event, 0, len(updates))
	for _, upd := range updates {
		events = append(events, NewEvent(upd))
	}
	return events, nil
}

// classifyAPIError maps Bot API failures onto the hub taxonomy: 409 is a
// poller conflict, 429 carries a retry-after, everything else passes through.
func classifyAPIError(err error) error {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Code {
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		retry := time.Duration(apiErr.RetryAfter) * time.Second
		if retry <= 0 {
			retry = time.Second
		}
		return &RateLimitedError{RetryAfter: retry}
	default:
		return err
	}
}

// NextCursor computes the resume cursor after a batch: max seq plus one, or
// the unchanged cursor for an empty batch.
func NextCursor(cursor int64, events []Event) int64 {
	for _, ev := range events {
		if ev.Seq >= cursor {
			cursor = ev.Seq + 1
		}
	}
	return cursor
}
