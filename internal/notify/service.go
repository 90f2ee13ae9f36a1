package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/wolfman30/studio-booking/internal/reservations"
	"github.com/wolfman30/studio-booking/pkg/logging"
)

// Service sends booking confirmations to the client and a copy to the
// studio owner.
type Service struct {
	email      EmailSender
	ownerEmail string
	studio     string
	location   *time.Location
	logger     *logging.Logger
}

type ServiceConfig struct {
	OwnerEmail string
	// StudioName appears in subjects and the signature.
	StudioName string
	// Location is the timezone dates are written in.
	Location *time.Location
}

func NewService(email EmailSender, cfg ServiceConfig, logger *logging.Logger) *Service {
	if email == nil {
		panic("notify: email sender required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.StudioName == "" {
		cfg.StudioName = defaultFromName
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Service{
		email:      email,
		ownerEmail: strings.TrimSpace(cfg.OwnerEmail),
		studio:     cfg.StudioName,
		location:   cfg.Location,
		logger:     logger,
	}
}

// BookingConfirmed emails the client and, when configured, the owner. Both
// sends are attempted; the errors are joined.
func (s *Service) BookingConfirmed(ctx context.Context, r *reservations.Reservation) error {
	if r == nil {
		return errors.New("notify: reservation required")
	}
	when := s.when(r)

	var errs []error
	if r.ClientEmail != "" {
		body := fmt.Sprintf(
			"Dobrý den %s,\n\npotvrzujeme Vaši rezervaci.\n\nSlužba: %s\nTermín: %s\n\nTěšíme se na Vás.\n%s",
			r.ClientName, r.ServiceName, when, s.studio,
		)
		msg := EmailMessage{
			To:      r.ClientEmail,
			ToName:  r.ClientName,
			Subject: fmt.Sprintf("Potvrzení rezervace – %s", s.studio),
			Body:    body,
			HTML:    toHTML(body),
		}
		if err := s.email.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("notify: client confirmation: %w", err))
		}
	}

	if s.ownerEmail != "" {
		body := fmt.Sprintf(
			"Nová rezervace\n\nSlužba: %s\nTermín: %s\n\nKlient: %s\nTel: %s\nEmail: %s\n\nID: %s",
			r.ServiceName, when, r.ClientName, r.ClientPhone, r.ClientEmail, r.ID,
		)
		msg := EmailMessage{
			To:      s.ownerEmail,
			Subject: fmt.Sprintf("Nová rezervace: %s - %s", r.ServiceName, r.ClientName),
			Body:    body,
			HTML:    toHTML(body),
		}
		if err := s.email.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("notify: owner copy: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.logger.Debug("booking confirmation sent", "reservation_id", r.ID)
	return nil
}

func (s *Service) when(r *reservations.Reservation) string {
	start := r.ServiceStart.In(s.location)
	end := r.ServiceEnd.In(s.location)
	return fmt.Sprintf("%s %s–%s", start.Format("2.1.2006"), start.Format("15:04"), end.Format("15:04"))
}

func toHTML(text string) string {
	return "<p>" + strings.ReplaceAll(html.EscapeString(text), "\n", "<br>") + "</p>"
}
