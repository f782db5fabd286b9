package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/baechuer/tablebook/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix   = "tb:"
	eventsIndex = keyPrefix + "events"
)

func eventKey(id uuid.UUID) string   { return keyPrefix + "event:" + id.String() }
func joinedKey(userID string) string { return keyPrefix + "joined:" + userID }

// Store keeps each event as a hash {doc, current, max}, an index of event
// ids ordered by creation, and one hash per user of joined event ids.
// Mutate uses WATCH/MULTI/EXEC on the event and membership keys.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (domain.Event, error) {
	vals, err := s.rdb.HGetAll(ctx, eventKey(id)).Result()
	if err != nil {
		return domain.Event{}, domain.Unavailable("redis get event", err)
	}
	e, found, err := decodeEvent(vals)
	if err != nil {
		return domain.Event{}, err
	}
	if !found {
		return domain.Event{}, domain.ErrNotFound
	}
	return e, nil
}

// PutEvent writes the document and seeds the counters. HSETNX on the
// document makes it insert-only.
func (s *Store) PutEvent(ctx context.Context, e domain.Event) error {
	doc, err := json.Marshal(e)
	if err != nil {
		return err
	}
	key := eventKey(e.ID)
	var created *redis.BoolCmd
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		created = p.HSetNX(ctx, key, "doc", doc)
		p.HSetNX(ctx, key, "current", e.Participants.Current)
		p.HSetNX(ctx, key, "max", e.Participants.Max)
		p.ZAddNX(ctx, eventsIndex, redis.Z{Score: float64(e.CreatedAt.UnixMilli()), Member: e.ID.String()})
		return nil
	})
	if err != nil {
		return domain.Unavailable("redis put event", err)
	}
	if !created.Val() {
		return domain.ErrConflict
	}
	return nil
}

// UpdateDetails rewrites the document under WATCH. A delete landing between
// the read and EXEC aborts the transaction with ErrConflict, and the retry
// then sees ErrNotFound.
func (s *Store) UpdateDetails(ctx context.Context, id uuid.UUID, patch domain.EventPatch) (domain.Event, error) {
	key := eventKey(id)

	var (
		out      domain.Event
		notFound bool
	)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		e, found, err := decodeEvent(vals)
		if err != nil {
			return err
		}
		if !found {
			notFound = true
			return nil
		}

		e = patch.Apply(e)
		doc, err := json.Marshal(e)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, "doc", doc)
			return nil
		})
		if err != nil {
			return err
		}
		out = e
		return nil
	}, key)

	switch {
	case errors.Is(err, redis.TxFailedErr):
		return domain.Event{}, domain.ErrConflict
	case errors.Is(err, domain.ErrStoreUnavailable):
		return domain.Event{}, err
	case err != nil:
		return domain.Event{}, domain.Unavailable("redis update event", err)
	case notFound:
		return domain.Event{}, domain.ErrNotFound
	}
	return out, nil
}

func (s *Store) DeleteEvent(ctx context.Context, id uuid.UUID) error {
	var del *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, eventKey(id))
		p.ZRem(ctx, eventsIndex, id.String())
		return nil
	})
	if err != nil {
		return domain.Unavailable("redis delete event", err)
	}
	if del.Val() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context) ([]domain.Event, error) {
	ids, err := s.rdb.ZRange(ctx, eventsIndex, 0, -1).Result()
	if err != nil {
		return nil, domain.Unavailable("redis list events", err)
	}
	if len(ids) == 0 {
		return []domain.Event{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, keyPrefix+"event:"+id)
		}
		return nil
	})
	if err != nil {
		return nil, domain.Unavailable("redis list events", err)
	}

	out := make([]domain.Event, 0, len(ids))
	for _, cmd := range cmds {
		e, found, err := decodeEvent(cmd.Val())
		if err != nil {
			return nil, err
		}
		// index can briefly outlive a deleted hash
		if found {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) GetMembership(ctx context.Context, userID string) (domain.Membership, error) {
	keys, err := s.rdb.HKeys(ctx, joinedKey(userID)).Result()
	if err != nil {
		return nil, domain.Unavailable("redis get membership", err)
	}
	m := make(domain.Membership, len(keys))
	for _, k := range keys {
		if id, err := uuid.Parse(k); err == nil {
			m[id] = true
		}
	}
	return m, nil
}

func (s *Store) Mutate(ctx context.Context, eventID uuid.UUID, userID string, decide domain.DecideFunc) (domain.Event, error) {
	ek, mk := eventKey(eventID), joinedKey(userID)
	field := eventID.String()

	var (
		out       domain.Event
		decideErr error
	)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		vals, err := tx.HGetAll(ctx, ek).Result()
		if err != nil {
			return err
		}
		joined, err := tx.HExists(ctx, mk, field).Result()
		if err != nil {
			return err
		}
		e, found, err := decodeEvent(vals)
		if err != nil {
			return err
		}

		m, err := decide(domain.TxState{Event: e, Found: found, Joined: joined})
		if err != nil {
			decideErr = err
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, ek, "current", m.Current)
			if m.Joined {
				p.HSet(ctx, mk, field, 1)
			} else {
				p.HDel(ctx, mk, field)
			}
			return nil
		})
		if err != nil {
			return err
		}
		e.Participants.Current = m.Current
		out = e
		return nil
	}, ek, mk)

	switch {
	case errors.Is(err, redis.TxFailedErr):
		return domain.Event{}, domain.ErrConflict
	case errors.Is(err, domain.ErrStoreUnavailable):
		return domain.Event{}, err
	case err != nil:
		return domain.Event{}, domain.Unavailable("redis mutate", err)
	case decideErr != nil:
		return domain.Event{}, decideErr
	}
	return out, nil
}

func decodeEvent(vals map[string]string) (domain.Event, bool, error) {
	doc, ok := vals["doc"]
	if !ok {
		return domain.Event{}, false, nil
	}
	var e domain.Event
	if err := json.Unmarshal([]byte(doc), &e); err != nil {
		return domain.Event{}, false, domain.Unavailable("redis decode event", err)
	}
	cur, err1 := strconv.Atoi(vals["current"])
	capacity, err2 := strconv.Atoi(vals["max"])
	if err1 != nil || err2 != nil {
		return domain.Event{}, false, domain.Unavailable("redis decode counters", errors.Join(err1, err2))
	}
	e.Participants = domain.Participants{Current: cur, Max: capacity}
	return e, true, nil
}
