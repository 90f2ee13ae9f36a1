// Package archive writes reservation snapshots to S3 as JSON lines.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wolfman30/studio-booking/internal/reservations"
	"github.com/wolfman30/studio-booking/pkg/logging"
)

// S3API is the subset of the S3 client used by Exporter.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Record is one exported reservation.
type Record struct {
	ID              string    `json:"id"`
	ClientName      string    `json:"clientName"`
	ClientPhone     string    `json:"clientPhone,omitempty"`
	ClientEmail     string    `json:"clientEmail,omitempty"`
	PhoneHash       string    `json:"phoneHash,omitempty"`
	EmailHash       string    `json:"emailHash,omitempty"`
	ServiceName     string    `json:"serviceName"`
	ServiceStart    time.Time `json:"serviceStartDateTime"`
	ServiceEnd      time.Time `json:"serviceEndDateTime"`
	Status          string    `json:"status"`
	AdminService    string    `json:"adminService,omitempty"`
	AdminNotes      string    `json:"adminNotes,omitempty"`
	CalendarEventID string    `json:"calendarEventId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

type Config struct {
	Bucket string
	// Redact replaces contact details with hashes and scrubs admin notes.
	Redact bool
}

type Exporter struct {
	s3Client S3API
	cfg      Config
	logger   *logging.Logger
	now      func() time.Time
}

func NewExporter(s3Client S3API, cfg Config, logger *logging.Logger) *Exporter {
	if logger == nil {
		logger = logging.Default()
	}
	return &Exporter{s3Client: s3Client, cfg: cfg, logger: logger, now: time.Now}
}

// Enabled returns true if a bucket and client are configured.
func (e *Exporter) Enabled() bool {
	return e != nil && e.cfg.Bucket != "" && e.s3Client != nil
}

// Export writes rs to reservations/YYYY/MM/DD/<timestamp>.jsonl and returns
// the key.
func (e *Exporter) Export(ctx context.Context, rs []*reservations.Reservation) (string, error) {
	if !e.Enabled() {
		return "", errors.New("archive: export bucket not configured")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range rs {
		if err := enc.Encode(e.record(r)); err != nil {
			return "", fmt.Errorf("archive: encode reservation %s: %w", r.ID, err)
		}
	}

	now := e.now().UTC()
	key := fmt.Sprintf("reservations/%d/%02d/%02d/%s.jsonl",
		now.Year(), now.Month(), now.Day(), now.Format("20060102T150405Z"))

	_, err := e.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", fmt.Errorf("archive: s3 put %s: %w", key, err)
	}

	e.logger.Info("exported reservations to S3", "s3_key", key, "count", len(rs), "redacted", e.cfg.Redact)
	return key, nil
}

func (e *Exporter) record(r *reservations.Reservation) Record {
	rec := Record{
		ID:              r.ID,
		ClientName:      r.ClientName,
		ClientPhone:     r.ClientPhone,
		ClientEmail:     r.ClientEmail,
		ServiceName:     r.ServiceName,
		ServiceStart:    r.ServiceStart.UTC(),
		ServiceEnd:      r.ServiceEnd.UTC(),
		Status:          string(r.Status),
		AdminService:    r.AdminService,
		AdminNotes:      r.AdminNotes,
		CalendarEventID: r.CalendarEventID,
		CreatedAt:       r.CreatedAt.UTC(),
	}
	if e.cfg.Redact {
		rec.PhoneHash = HashContact(r.ClientPhone)
		rec.EmailHash = HashContact(r.ClientEmail)
		rec.ClientPhone = ""
		rec.ClientEmail = ""
		rec.AdminNotes = ScrubPII(r.AdminNotes)
	}
	return rec
}
