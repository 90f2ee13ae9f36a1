package reservations

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/wolfman30/studio-booking/internal/scheduling"
)

// maxReservationLength bounds the lookback of range queries on
// serviceStartDateTime, since Firestore can only range-filter one field cheaply.
const maxReservationLength = 24 * time.Hour

// FirestoreStore keeps reservations as documents in a Firestore collection.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	now        func() time.Time
}

var _ Store = (*FirestoreStore)(nil)

func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	if client == nil {
		panic("reservations: firestore client required")
	}
	if collection == "" {
		collection = "reservations"
	}
	return &FirestoreStore{client: client, collection: collection, now: time.Now}
}

func (s *FirestoreStore) col() *firestore.CollectionRef {
	return s.client.Collection(s.collection)
}

// Insert reads the overlapping documents and creates the new one inside a
// single transaction; Firestore aborts it if any of the read documents or
// query results change before commit.
func (s *FirestoreStore) Insert(ctx context.Context, r *Reservation, guard Guard) error {
	if err := validateForInsert(r); err != nil {
		return err
	}
	now := s.now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if guard.Check != nil {
			docs, err := tx.Documents(s.windowQuery(guard.Window)).GetAll()
			if err != nil {
				return fmt.Errorf("reservations: query window: %w", err)
			}
			existing, err := decodeOverlapping(docs, guard.Window)
			if err != nil {
				return err
			}
			if err := guard.run(existing); err != nil {
				return err
			}
		}
		return tx.Create(s.col().Doc(r.ID), r)
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (s *FirestoreStore) Get(ctx context.Context, id string) (*Reservation, error) {
	doc, err := s.col().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reservations: get document: %w", err)
	}
	return decodeDoc(doc)
}

func (s *FirestoreStore) List(ctx context.Context, filter ListFilter) ([]*Reservation, error) {
	docs, err := s.col().OrderBy("createdAt", firestore.Desc).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("reservations: list documents: %w", err)
	}
	out := make([]*Reservation, 0, len(docs))
	for _, doc := range docs {
		r, err := decodeDoc(doc)
		if err != nil {
			return nil, err
		}
		if filter.match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *FirestoreStore) Update(ctx context.Context, id string, patch Patch) (*Reservation, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	var updated *Reservation
	ref := s.col().Doc(id)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			return err
		}
		r, err := decodeDoc(doc)
		if err != nil {
			return err
		}
		patch.Apply(r, s.now().UTC())
		updated = r
		return tx.Set(ref, r)
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reservations: update document: %w", err)
	}
	return updated, nil
}

func (s *FirestoreStore) ListBusyIntervals(ctx context.Context, from, to time.Time) ([]scheduling.BusyInterval, error) {
	window := scheduling.Interval{Start: from, End: to}
	docs, err := s.windowQuery(window).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("reservations: query window: %w", err)
	}
	existing, err := decodeOverlapping(docs, window)
	if err != nil {
		return nil, err
	}
	out := make([]scheduling.BusyInterval, 0, len(existing))
	for _, r := range existing {
		if r.Blocking() {
			out = append(out, r.Busy())
		}
	}
	return out, nil
}

func (s *FirestoreStore) windowQuery(window scheduling.Interval) firestore.Query {
	return s.col().
		Where("serviceStartDateTime", ">=", window.Start.Add(-maxReservationLength)).
		Where("serviceStartDateTime", "<", window.End)
}

func decodeOverlapping(docs []*firestore.DocumentSnapshot, window scheduling.Interval) ([]*Reservation, error) {
	var out []*Reservation
	for _, doc := range docs {
		r, err := decodeDoc(doc)
		if err != nil {
			return nil, err
		}
		if r.Interval().Overlaps(window) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceStart.Before(out[j].ServiceStart) })
	return out, nil
}

func decodeDoc(doc *firestore.DocumentSnapshot) (*Reservation, error) {
	if doc == nil || !doc.Exists() {
		return nil, ErrNotFound
	}
	var r Reservation
	if err := doc.DataTo(&r); err != nil {
		return nil, fmt.Errorf("reservations: decode %s: %w", doc.Ref.ID, err)
	}
	r.ID = doc.Ref.ID
	return &r, nil
}
