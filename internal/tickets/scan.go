package tickets

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"ticketing-core/internal/apperr"
	"ticketing-core/internal/metrics"
	"ticketing-core/internal/models"
	"ticketing-core/internal/outbox"
	"ticketing-core/internal/tickets/credential"
)

type scanNotice struct {
	TicketID string `json:"ticket_id"`
	HolderID string `json:"holder_id"`
	Manual   bool   `json:"manual"`
}

// ScanCredential admits the holder of credential. eventID, when set, must be
// the ticket's event. Exactly one of any number of concurrent scans of the
// same ticket succeeds.
func (s *Service) ScanCredential(ctx context.Context, cred, eventID string) (*models.Ticket, error) {
	claims, err := s.Codec.Decode(cred)
	if err != nil {
		metrics.TicketScans.WithLabelValues(ErrMalformedCredential.Code).Inc()
		return nil, err
	}
	t, err := s.scan(ctx, claims.TicketID, eventID, cred, &claims)
	metrics.TicketScans.WithLabelValues(metrics.Outcome(err, errCode(err))).Inc()
	return t, err
}

// ScanTicket is the manual staff entry path, keyed by ticket id.
func (s *Service) ScanTicket(ctx context.Context, ticketID, eventID string) (*models.Ticket, error) {
	t, err := s.scan(ctx, ticketID, eventID, "", nil)
	metrics.TicketScans.WithLabelValues(metrics.Outcome(err, errCode(err))).Inc()
	return t, err
}

func (s *Service) scan(ctx context.Context, ticketID, eventID, cred string, claims *credential.Claims) (*models.Ticket, error) {
	var out *models.Ticket
	err := s.DB.RunInTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		t, err := s.load(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		if err := checkScannable(t, eventID, cred, claims); err != nil {
			return err
		}

		now := s.now()
		ok, err := s.DB.MarkScanned(ctx, tx, t.TicketID, cred, now)
		if err != nil {
			return fmt.Errorf("scan %s: %w", ticketID, err)
		}
		if !ok {
			current, err := s.load(ctx, tx, ticketID)
			if err != nil {
				return err
			}
			if err := checkScannable(current, eventID, cred, claims); err != nil {
				return err
			}
			return ErrTicketChanged
		}

		notice := scanNotice{TicketID: t.TicketID, HolderID: t.HolderID, Manual: cred == ""}
		if err := outbox.Append(ctx, tx, outbox.TopicTicketScanned, t.TicketID, t.EventID, t.HolderID, notice); err != nil {
			return err
		}

		t.Scanned = true
		t.ScannedAt = &now
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Logger.LogTicket("SCAN", ticketID, fmt.Sprintf("admitted holder %s", out.HolderID))
	return out, nil
}

// checkScannable classifies why t cannot be scanned with cred, if it cannot.
func checkScannable(t *models.Ticket, eventID, cred string, claims *credential.Claims) error {
	if t.Voided {
		return ErrTicketVoided
	}
	if eventID != "" && t.EventID != eventID {
		return ErrWrongEvent
	}
	if claims != nil {
		if claims.EventID != t.EventID || claims.HolderID != t.HolderID || cred != t.Credential {
			return ErrCredentialMismatch
		}
	}
	if t.Scanned {
		return ErrAlreadyScanned
	}
	return nil
}

func errCode(err error) string {
	return apperr.CodeOf(err)
}
