package store

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/botfleet/botfleet/internal/shared/tokens"
)

const cursorPrefix = "cursor/"

// Cursors persists getUpdates resume cursors, keyed by token digest so raw
// secrets never reach disk. Implements hub.CursorStore.
type Cursors struct {
	s *Store
}

func NewCursors(s *Store) *Cursors { return &Cursors{s: s} }

// Load returns the persisted cursor for token, ok=false if none exists.
func (c *Cursors) Load(token string) (int64, bool, error) {
	raw, err := c.s.Get(cursorPrefix + tokens.Digest(token))
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt cursor value %q: %w", raw, err)
	}
	return v, true, nil
}

// Save persists cursor for token. Values never regress: a save below the
// stored watermark is ignored so restarts cannot replay acknowledged updates.
func (c *Cursors) Save(token string, cursor int64) error {
	prev, ok, err := c.Load(token)
	if err != nil {
		return err
	}
	if ok && cursor <= prev {
		return nil
	}
	return c.s.Set(cursorPrefix+tokens.Digest(token), []byte(strconv.FormatInt(cursor, 10)))
}
