package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
)

// Omise creates charges and retrieves webhook events through the Omise API.
type Omise struct {
	client *omise.Client
	logger *slog.Logger
}

// NewOmise builds a client from the public and secret keys.
func NewOmise(publicKey, secretKey string, logger *slog.Logger) (*Omise, error) {
	if strings.TrimSpace(publicKey) == "" || strings.TrimSpace(secretKey) == "" {
		return nil, ErrNotConfigured
	}
	client, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("create omise client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Omise{client: client, logger: logger}, nil
}

// CreateCharge creates a charge with the request's card token or source.
func (o *Omise) CreateCharge(ctx context.Context, req ChargeRequest) (Charge, error) {
	if o == nil || o.client == nil {
		return Charge{}, ErrNotConfigured
	}
	if req.Amount <= 0 || req.Currency == "" {
		return Charge{}, fmt.Errorf("payment: invalid charge amount or currency")
	}
	if req.Card == "" && req.Source == "" {
		return Charge{}, fmt.Errorf("payment: card or source is required")
	}

	ch := &omise.Charge{}
	op := &operations.CreateCharge{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
		Card:        req.Card,
		Source:      req.Source,
		ReturnURI:   req.ReturnURI,
		Metadata:    req.Metadata,
	}
	if err := o.client.Do(ch, op); err != nil {
		return Charge{}, fmt.Errorf("create charge: %w", err)
	}

	charge := fromOmiseCharge(ch)
	o.logger.InfoContext(ctx, "charge created", "charge_id", charge.ID, "charge_status", string(charge.Status), "amount", charge.Amount)
	return charge, nil
}

// RetrieveEvent fetches a webhook event by id. Fetching it back from the API
// is what authenticates an incoming webhook.
func (o *Omise) RetrieveEvent(ctx context.Context, id string) (Event, error) {
	if o == nil || o.client == nil {
		return Event{}, ErrNotConfigured
	}

	ev := &omise.Event{}
	if err := o.client.Do(ev, &operations.RetrieveEvent{EventID: id}); err != nil {
		return Event{}, fmt.Errorf("retrieve event: %w", err)
	}

	out := Event{ID: ev.ID, Key: ev.Key}
	if strings.HasPrefix(ev.Key, "charge.") {
		charge, err := decodeCharge(ev.Data)
		if err != nil {
			return Event{}, err
		}
		out.Charge = &charge
	}
	o.logger.InfoContext(ctx, "payment event retrieved", "payment_event_id", out.ID, "key", out.Key)
	return out, nil
}

// decodeCharge converts the loosely typed event payload into a Charge.
func decodeCharge(data any) (Charge, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Charge{}, fmt.Errorf("encode event data: %w", err)
	}
	var ch omise.Charge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return Charge{}, fmt.Errorf("decode charge: %w", err)
	}
	return fromOmiseCharge(&ch), nil
}

func fromOmiseCharge(ch *omise.Charge) Charge {
	out := Charge{
		ID:           ch.ID,
		Status:       ChargeStatus(ch.Status),
		Amount:       ch.Amount,
		Currency:     ch.Currency,
		AuthorizeURI: ch.AuthorizeURI,
		Metadata:     ch.Metadata,
	}
	if ch.Source != nil {
		out.SourceType = string(ch.Source.Type)
	}
	if ch.FailureCode != nil {
		out.FailureCode = *ch.FailureCode
	}
	if ch.FailureMessage != nil {
		out.FailureMessage = *ch.FailureMessage
	}
	return out
}
