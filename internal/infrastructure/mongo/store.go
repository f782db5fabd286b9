package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/baechuer/tablebook/internal/domain"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	eventsCollection      = "events"
	membershipsCollection = "memberships"
)

var errStale = errors.New("event version changed")

type eventDoc struct {
	ID           string              `bson:"_id"`
	Title        string              `bson:"title"`
	Description  string              `bson:"description"`
	Category     string              `bson:"category"`
	StartsAt     time.Time           `bson:"starts_at"`
	HasTime      bool                `bson:"has_time"`
	Access       string              `bson:"access"`
	InviteCode   string              `bson:"invite_code"`
	Participants domain.Participants `bson:"participants"`
	Host         string              `bson:"host"`
	HostID       string              `bson:"host_id"`
	CreatedAt    time.Time           `bson:"created_at"`
	Version      int64               `bson:"version"`
}

// membershipDoc is one per user: {_id: userID, events: {eventID: true}}.
type membershipDoc struct {
	UserID string          `bson:"_id"`
	Events map[string]bool `bson:"events"`
}

func (d eventDoc) toDomain() (domain.Event, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return domain.Event{}, domain.Unavailable("mongo decode event", err)
	}
	return domain.Event{
		ID:           id,
		Title:        d.Title,
		Description:  d.Description,
		Category:     d.Category,
		StartsAt:     d.StartsAt.UTC(),
		HasTime:      d.HasTime,
		Access:       domain.Access(d.Access),
		InviteCode:   d.InviteCode,
		Participants: d.Participants,
		Host:         d.Host,
		HostID:       d.HostID,
		CreatedAt:    d.CreatedAt.UTC(),
	}, nil
}

// Store runs Mutate as a multi-document transaction and additionally
// guards the event update with its version, so a replica set is required.
type Store struct {
	client  *mongo.Client
	events  *mongo.Collection
	members *mongo.Collection
}

func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

func New(client *mongo.Client, database string) *Store {
	db := client.Database(database)
	return &Store{
		client:  client,
		events:  db.Collection(eventsCollection),
		members: db.Collection(membershipsCollection),
	}
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}},
	})
	return err
}

func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (domain.Event, error) {
	var doc eventDoc
	err := s.events.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Event{}, domain.ErrNotFound
		}
		return domain.Event{}, domain.Unavailable("mongo get event", err)
	}
	return doc.toDomain()
}

func (s *Store) PutEvent(ctx context.Context, e domain.Event) error {
	_, err := s.events.InsertOne(ctx, eventDoc{
		ID:           e.ID.String(),
		Title:        e.Title,
		Description:  e.Description,
		Category:     e.Category,
		StartsAt:     e.StartsAt.UTC(),
		HasTime:      e.HasTime,
		Access:       string(e.Access),
		InviteCode:   e.InviteCode,
		Participants: e.Participants,
		Host:         e.Host,
		HostID:       e.HostID,
		CreatedAt:    e.CreatedAt.UTC(),
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrConflict
		}
		return domain.Unavailable("mongo put event", err)
	}
	return nil
}

// UpdateDetails never upserts, so an ended event stays gone.
func (s *Store) UpdateDetails(ctx context.Context, id uuid.UUID, patch domain.EventPatch) (domain.Event, error) {
	p := patch.Trimmed()
	set := bson.M{}
	if p.Title != nil {
		set["title"] = *p.Title
	}
	if p.Description != nil {
		set["description"] = *p.Description
	}
	if p.Category != nil {
		set["category"] = *p.Category
	}
	update := bson.M{"$inc": bson.M{"version": 1}}
	if len(set) > 0 {
		update["$set"] = set
	}

	var doc eventDoc
	err := s.events.FindOneAndUpdate(ctx, bson.M{"_id": id.String()}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Event{}, domain.ErrNotFound
		}
		return domain.Event{}, domain.Unavailable("mongo update event", err)
	}
	return doc.toDomain()
}

func (s *Store) DeleteEvent(ctx context.Context, id uuid.UUID) error {
	res, err := s.events.DeleteOne(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return domain.Unavailable("mongo delete event", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context) ([]domain.Event, error) {
	cur, err := s.events.Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, domain.Unavailable("mongo list events", err)
	}
	var docs []eventDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, domain.Unavailable("mongo list events", err)
	}

	out := make([]domain.Event, 0, len(docs))
	for _, d := range docs {
		e, err := d.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) GetMembership(ctx context.Context, userID string) (domain.Membership, error) {
	var doc membershipDoc
	err := s.members.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Membership{}, nil
		}
		return nil, domain.Unavailable("mongo get membership", err)
	}
	m := make(domain.Membership, len(doc.Events))
	for k, v := range doc.Events {
		if id, err := uuid.Parse(k); err == nil && v {
			m[id] = true
		}
	}
	return m, nil
}

func (s *Store) Mutate(ctx context.Context, eventID uuid.UUID, userID string, decide domain.DecideFunc) (domain.Event, error) {
	sess, err := s.client.StartSession()
	if err != nil {
		return domain.Event{}, domain.Unavailable("mongo start session", err)
	}
	defer sess.EndSession(context.WithoutCancel(ctx))

	id := eventID.String()
	var (
		out       domain.Event
		decideErr error
	)
	err = mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		if err := sess.StartTransaction(); err != nil {
			return err
		}
		committed := false
		defer func() {
			if !committed {
				_ = sess.AbortTransaction(context.WithoutCancel(sc))
			}
		}()

		st := domain.TxState{Found: true}
		var doc eventDoc
		err := s.events.FindOne(sc, bson.M{"_id": id}).Decode(&doc)
		switch {
		case errors.Is(err, mongo.ErrNoDocuments):
			st.Found = false
		case err != nil:
			return err
		default:
			if st.Event, err = doc.toDomain(); err != nil {
				return err
			}
		}

		if st.Found {
			var md membershipDoc
			err = s.members.FindOne(sc, bson.M{"_id": userID}).Decode(&md)
			switch {
			case err == nil:
				st.Joined = md.Events[id]
			case !errors.Is(err, mongo.ErrNoDocuments):
				return err
			}
		}

		m, err := decide(st)
		if err != nil {
			decideErr = err
			return nil
		}

		res, err := s.events.UpdateOne(sc,
			bson.M{"_id": id, "version": doc.Version},
			bson.M{
				"$set": bson.M{"participants.current": m.Current},
				"$inc": bson.M{"version": 1},
			},
		)
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return errStale
		}

		update := bson.M{"$unset": bson.M{"events." + id: ""}}
		if m.Joined {
			update = bson.M{"$set": bson.M{"events." + id: true}}
		}
		if _, err := s.members.UpdateOne(sc, bson.M{"_id": userID}, update, options.Update().SetUpsert(true)); err != nil {
			return err
		}

		if err := sess.CommitTransaction(sc); err != nil {
			return err
		}
		committed = true
		st.Event.Participants.Current = m.Current
		out = st.Event
		return nil
	})

	switch {
	case err == nil && decideErr != nil:
		return domain.Event{}, decideErr
	case err == nil:
		return out, nil
	case errors.Is(err, errStale), isTransient(err):
		return domain.Event{}, domain.ErrConflict
	case errors.Is(err, domain.ErrStoreUnavailable):
		return domain.Event{}, err
	default:
		return domain.Event{}, domain.Unavailable("mongo mutate", err)
	}
}

// isTransient reports write conflicts between concurrent transactions.
func isTransient(err error) bool {
	var le mongo.LabeledError
	return errors.As(err, &le) && le.HasErrorLabel("TransientTransactionError")
}
