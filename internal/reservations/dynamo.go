package reservations

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/studio-booking/internal/scheduling"
	"github.com/wolfman30/studio-booking/pkg/logging"
)

const (
	kindReservation = "reservation"
	kindDay         = "day"
	dayKeyPrefix    = "day#"
)

type dynamoAPI interface {
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(context.Context, *dynamodb.ScanInput, ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(context.Context, *dynamodb.TransactWriteItemsInput, ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

type reservationItem struct {
	Reservation
	Kind string `dynamodbav:"kind"`
}

// dayItem indexes the reservations touching one UTC day. Every write bumps
// Version under a condition, which turns concurrent inserts on the same day
// into a cancelled transaction instead of a double booking.
type dayItem struct {
	ID      string     `dynamodbav:"id"`
	Kind    string     `dynamodbav:"kind"`
	Version int64      `dynamodbav:"version"`
	Entries []dayEntry `dynamodbav:"entries"`
}

type dayEntry struct {
	ID     string    `dynamodbav:"id"`
	Start  time.Time `dynamodbav:"start"`
	End    time.Time `dynamodbav:"end"`
	Status Status    `dynamodbav:"status"`
}

// DynamoStore keeps reservations and their day index items in one table keyed by "id".
type DynamoStore struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
	now       func() time.Time
}

var _ Store = (*DynamoStore)(nil)

func NewDynamoStore(client dynamoAPI, tableName string, logger *logging.Logger) *DynamoStore {
	if client == nil {
		panic("reservations: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("reservations: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoStore{client: client, tableName: tableName, logger: logger, now: time.Now}
}

func (s *DynamoStore) Insert(ctx context.Context, r *Reservation, guard Guard) error {
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

	ownDays := daysCovering(r.Interval())
	checkDays := ownDays
	if guard.Check != nil {
		checkDays = unionDays(ownDays, daysCovering(guard.Window))
	}
	days, err := s.loadDays(ctx, checkDays)
	if err != nil {
		return err
	}

	if guard.Check != nil {
		var existing []*Reservation
		for _, e := range entriesOverlapping(days, guard.Window) {
			existing = append(existing, e.reservation())
		}
		if err := guard.run(existing); err != nil {
			return err
		}
	}

	item, err := attributevalue.MarshalMap(reservationItem{Reservation: *r, Kind: kindReservation})
	if err != nil {
		return fmt.Errorf("reservations: marshal reservation: %w", err)
	}
	writes := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:           aws.String(s.tableName),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(id)"),
		},
	}}

	entry := entryFor(r)
	owned := make(map[string]bool, len(ownDays))
	for _, day := range ownDays {
		owned[day] = true
		d := days[day]
		next := dayItem{ID: d.ID, Kind: kindDay, Version: d.Version + 1, Entries: append(append([]dayEntry(nil), d.Entries...), entry)}
		put, err := s.putDay(next, d.Version)
		if err != nil {
			return err
		}
		writes = append(writes, put)
	}
	for _, day := range checkDays {
		if owned[day] {
			continue
		}
		writes = append(writes, s.checkDay(days[day]))
	}

	if err := s.transact(ctx, writes); err != nil {
		return err
	}
	return nil
}

func (s *DynamoStore) Get(ctx context.Context, id string) (*Reservation, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("reservations: get item: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	var item reservationItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("reservations: decode reservation: %w", err)
	}
	if item.Kind != kindReservation {
		return nil, ErrNotFound
	}
	return &item.Reservation, nil
}

// List scans the table. Admin listings are small, so sorting happens here.
func (s *DynamoStore) List(ctx context.Context, filter ListFilter) ([]*Reservation, error) {
	var (
		out   []*Reservation
		start map[string]types.AttributeValue
	)
	for {
		page, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(s.tableName),
			FilterExpression:          aws.String("#kind = :kind"),
			ExpressionAttributeNames:  map[string]string{"#kind": "kind"},
			ExpressionAttributeValues: map[string]types.AttributeValue{":kind": &types.AttributeValueMemberS{Value: kindReservation}},
			ExclusiveStartKey:         start,
		})
		if err != nil {
			return nil, fmt.Errorf("reservations: scan: %w", err)
		}
		var items []reservationItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("reservations: decode scan: %w", err)
		}
		for i := range items {
			r := items[i].Reservation
			if filter.match(&r) {
				out = append(out, &r)
			}
		}
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		start = page.LastEvaluatedKey
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Update rewrites the reservation and moves its entry between day items when
// the start changes. The reservation write is conditioned on updatedAt so a
// concurrent edit fails with ErrConflict.
func (s *DynamoStore) Update(ctx context.Context, id string, patch Patch) (*Reservation, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	updated := current.clone()
	patch.Apply(updated, s.now().UTC())

	oldDays := daysCovering(current.Interval())
	newDays := daysCovering(updated.Interval())
	days, err := s.loadDays(ctx, unionDays(oldDays, newDays))
	if err != nil {
		return nil, err
	}

	item, err := attributevalue.MarshalMap(reservationItem{Reservation: *updated, Kind: kindReservation})
	if err != nil {
		return nil, fmt.Errorf("reservations: marshal reservation: %w", err)
	}
	prev, err := attributevalue.Marshal(current.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("reservations: marshal updatedAt: %w", err)
	}
	writes := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:                 aws.String(s.tableName),
			Item:                      item,
			ConditionExpression:       aws.String("updatedAt = :prev"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":prev": prev},
		},
	}}

	inNew := make(map[string]bool, len(newDays))
	for _, day := range newDays {
		inNew[day] = true
	}
	for _, day := range unionDays(oldDays, newDays) {
		d := days[day]
		next := dayItem{ID: d.ID, Kind: kindDay, Version: d.Version + 1}
		for _, e := range d.Entries {
			if e.ID != id {
				next.Entries = append(next.Entries, e)
			}
		}
		if inNew[day] {
			next.Entries = append(next.Entries, entryFor(updated))
		}
		put, err := s.putDay(next, d.Version)
		if err != nil {
			return nil, err
		}
		writes = append(writes, put)
	}

	if err := s.transact(ctx, writes); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *DynamoStore) ListBusyIntervals(ctx context.Context, from, to time.Time) ([]scheduling.BusyInterval, error) {
	window := scheduling.Interval{Start: from, End: to}
	days, err := s.loadDays(ctx, daysCovering(window))
	if err != nil {
		return nil, err
	}
	entries := entriesOverlapping(days, window)
	out := make([]scheduling.BusyInterval, 0, len(entries))
	for _, e := range entries {
		if e.Status == StatusCancelled {
			continue
		}
		out = append(out, e.reservation().Busy())
	}
	return out, nil
}

func (s *DynamoStore) loadDays(ctx context.Context, days []string) (map[string]dayItem, error) {
	out := make(map[string]dayItem, len(days))
	for _, day := range days {
		key := dayKeyPrefix + day
		resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(s.tableName),
			Key:            map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: key}},
			ConsistentRead: aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("reservations: load day %s: %w", day, err)
		}
		item := dayItem{ID: key, Kind: kindDay}
		if resp.Item != nil {
			if err := attributevalue.UnmarshalMap(resp.Item, &item); err != nil {
				return nil, fmt.Errorf("reservations: decode day %s: %w", day, err)
			}
		}
		out[day] = item
	}
	return out, nil
}

// putDay writes next if the stored version still equals seen. Version 0 means
// the item did not exist when it was read.
func (s *DynamoStore) putDay(next dayItem, seen int64) (types.TransactWriteItem, error) {
	item, err := attributevalue.MarshalMap(next)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("reservations: marshal day: %w", err)
	}
	put := &types.Put{TableName: aws.String(s.tableName), Item: item}
	cond, names, values := versionCondition(seen)
	put.ConditionExpression = aws.String(cond)
	put.ExpressionAttributeNames = names
	put.ExpressionAttributeValues = values
	return types.TransactWriteItem{Put: put}, nil
}

func (s *DynamoStore) checkDay(d dayItem) types.TransactWriteItem {
	cond, names, values := versionCondition(d.Version)
	return types.TransactWriteItem{ConditionCheck: &types.ConditionCheck{
		TableName:                 aws.String(s.tableName),
		Key:                       map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: d.ID}},
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}}
}

func versionCondition(seen int64) (string, map[string]string, map[string]types.AttributeValue) {
	if seen == 0 {
		return "attribute_not_exists(id)", nil, nil
	}
	return "#version = :seen",
		map[string]string{"#version": "version"},
		map[string]types.AttributeValue{":seen": &types.AttributeValueMemberN{Value: strconv.FormatInt(seen, 10)}}
}

func (s *DynamoStore) transact(ctx context.Context, writes []types.TransactWriteItem) error {
	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: writes})
	if err == nil {
		return nil
	}
	var cancelled *types.TransactionCanceledException
	if errors.As(err, &cancelled) {
		s.logger.Warn("reservation transaction cancelled", "reasons", cancellationCodes(cancelled))
		return ErrConflict
	}
	return fmt.Errorf("reservations: transact write: %w", err)
}

func cancellationCodes(e *types.TransactionCanceledException) []string {
	codes := make([]string, 0, len(e.CancellationReasons))
	for _, r := range e.CancellationReasons {
		codes = append(codes, aws.ToString(r.Code))
	}
	return codes
}

func entryFor(r *Reservation) dayEntry {
	return dayEntry{ID: r.ID, Start: r.ServiceStart.UTC(), End: r.ServiceEnd.UTC(), Status: r.Status}
}

func (e dayEntry) reservation() *Reservation {
	return &Reservation{ID: e.ID, ServiceStart: e.Start, ServiceEnd: e.End, Status: e.Status}
}

func entriesOverlapping(days map[string]dayItem, window scheduling.Interval) []dayEntry {
	seen := make(map[string]bool)
	var out []dayEntry
	for _, d := range days {
		for _, e := range d.Entries {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			if (scheduling.Interval{Start: e.Start, End: e.End}).Overlaps(window) {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// daysCovering lists the UTC dates touched by the half-open interval.
func daysCovering(i scheduling.Interval) []string {
	if !i.End.After(i.Start) {
		return nil
	}
	start := i.Start.UTC()
	last := i.End.UTC().Add(-time.Nanosecond)
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	var out []string
	for !day.After(last) {
		out = append(out, day.Format(time.DateOnly))
		day = day.AddDate(0, 0, 1)
	}
	return out
}

func unionDays(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, d := range list {
			if !seen[d] {
				seen[d] = true
				out = append(out, d)
			}
		}
	}
	sort.Strings(out)
	return out
}
