// Package credential is the narrow collaborator surface over bot token
// records. The web console's CRUD pages sit on top of this; the hub only
// needs Get-by-id with an is-active flag.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/botfleet/botfleet/internal/shared/tokens"
	"github.com/botfleet/botfleet/internal/store"
)

const recordPrefix = "credential/"

// Record is one bot token as the console knows it.
type Record struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	Label     string    `json:"label"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Digest returns the record token's log-safe fingerprint.
func (r Record) Digest() string { return tokens.Digest(r.Token) }

// Store persists token records in badger.
type Store struct {
	s *store.Store
}

func NewStore(s *store.Store) *Store { return &Store{s: s} }

// Get returns the record for id. Missing records yield store.ErrNotFound.
func (c *Store) Get(id string) (Record, error) {
	raw, err := c.s.Get(recordPrefix + id)
	if err != nil {
		return Record{}, err
	}
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return Record{}, fmt.Errorf("corrupt credential record %s: %w", id, err)
	}
	return r, nil
}

// Put inserts or replaces a record, stamping UpdatedAt (and CreatedAt when
// unset).
func (c *Store) Put(r Record) error {
	if r.ID == "" {
		return errors.New("credential: empty id")
	}
	if r.Token == "" {
		return errors.New("credential: empty token")
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal credential %s: %w", r.ID, err)
	}
	return c.s.Set(recordPrefix+r.ID, raw)
}

// Delete removes a record. Deleting a missing record is a no-op.
func (c *Store) Delete(id string) error {
	return c.s.Delete(recordPrefix + id)
}

// List returns all records ordered by id.
func (c *Store) List() ([]Record, error) {
	var out []Record
	err := c.s.Iterate(recordPrefix, func(_ string, value []byte) bool {
		var r Record
		if err := json.Unmarshal(value, &r); err == nil {
			out = append(out, r)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetActive resolves id for the hub: empty secret means no such record.
// Implements hub.CredentialSource.
func (c *Store) GetActive(id string) (secret string, active bool, err error) {
	r, err := c.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return r.Token, r.Active, nil
}
