package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"dosmangos/internal/amqp"
	"dosmangos/internal/core"
	"dosmangos/internal/log"
	"dosmangos/internal/storage"
)

// Store is the persistence the transaction service needs.
type Store interface {
	Save(ctx context.Context, t core.Transaction) error
	Update(ctx context.Context, t core.Transaction) error
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (core.Transaction, error)
	Fetch(ctx context.Context, date time.Time) ([]core.Transaction, error)
}

// EventPublisher announces transaction changes to other processes.
type EventPublisher interface {
	Publish(ctx context.Context, ev *amqp.TransactionEvent) error
}

// LocationLoader supplies the current geocoded location. A nil location
// with a nil error means none is available.
type LocationLoader interface {
	Load(ctx context.Context) (*core.Location, error)
}

// Change is one applied mutation, handed to listeners after it is stored.
type Change struct {
	Type        amqp.EventType
	Transaction core.Transaction
}

// TransactionInput carries user-supplied fields for a create or update.
type TransactionInput struct {
	ID          uuid.UUID // zero to assign one
	CreatedAt   time.Time // zero for now
	Description string
	Amount      string // signed decimal, negative for expenses
	Currency    string // empty for the default currency
	Category    string
	Tags        []string
	Location    *core.Location

	// UseCurrentLocation attaches the device location when Location is nil.
	UseCurrentLocation bool
}

// TransactionService saves transactions locally and announces each change.
type TransactionService struct {
	store           Store
	publisher       EventPublisher
	location        LocationLoader
	clock           clock.Clock
	defaultCurrency string
	logger          *log.Logger
	listeners       []func(Change)
}

type Option func(*TransactionService)

func WithPublisher(p EventPublisher) Option {
	return func(s *TransactionService) { s.publisher = p }
}

func WithLocationLoader(l LocationLoader) Option {
	return func(s *TransactionService) { s.location = l }
}

func WithClock(c clock.Clock) Option {
	return func(s *TransactionService) { s.clock = c }
}

func WithLogger(l *log.Logger) Option {
	return func(s *TransactionService) {
		if l != nil {
			s.logger = l.WithComponent(log.ComponentTransaction)
		}
	}
}

func WithDefaultCurrency(code string) Option {
	return func(s *TransactionService) { s.defaultCurrency = code }
}

// WithListener registers fn to run after every stored change.
func WithListener(fn func(Change)) Option {
	return func(s *TransactionService) { s.listeners = append(s.listeners, fn) }
}

func NewTransactionService(store Store, opts ...Option) *TransactionService {
	s := &TransactionService{
		store:           store,
		clock:           clock.New(),
		defaultCurrency: "USD",
		logger:          log.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates and stores a new transaction.
func (s *TransactionService) Create(ctx context.Context, in TransactionInput) (core.Transaction, error) {
	t, err := s.build(in)
	if err != nil {
		return core.Transaction{}, err
	}
	if t.Location == nil && in.UseCurrentLocation {
		t.Location = s.currentLocation(ctx)
	}
	if err := s.store.Save(ctx, t); err != nil {
		return core.Transaction{}, fmt.Errorf("save transaction: %w", err)
	}
	s.logger.InfoContext(ctx, "transaction created",
		log.FieldTxID, t.ID.String(),
		log.FieldAmountMinor, t.Value.Minor,
		log.FieldCurrency, t.Value.Currency)
	s.announce(ctx, amqp.EventCreated, t)
	return t, nil
}

// Update replaces the stored transaction id with the input. The timestamp
// and location are kept when the input leaves them empty.
func (s *TransactionService) Update(ctx context.Context, id uuid.UUID, in TransactionInput) (core.Transaction, error) {
	existing, err := s.store.Get(ctx, id)
	if err != nil {
		return core.Transaction{}, err
	}
	in.ID = id
	if in.CreatedAt.IsZero() {
		in.CreatedAt = existing.CreatedAt
	}
	t, err := s.build(in)
	if err != nil {
		return core.Transaction{}, err
	}
	switch {
	case t.Location != nil:
	case in.UseCurrentLocation:
		t.Location = s.currentLocation(ctx)
	default:
		t.Location = existing.Location
	}
	if err := s.store.Update(ctx, t); err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}
	s.logger.InfoContext(ctx, "transaction updated", log.FieldTxID, t.ID.String())
	s.announce(ctx, amqp.EventUpdated, t)
	return t, nil
}

// Delete removes the transaction id. A row that can no longer be decoded is
// still removed and announced by id only.
func (s *TransactionService) Delete(ctx context.Context, id uuid.UUID) error {
	existing, err := s.store.Get(ctx, id)
	var decodeErr *storage.DecodeError
	switch {
	case errors.As(err, &decodeErr):
		s.logger.WarnContext(ctx, "deleting undecodable transaction", log.FieldTxID, id.String(), log.FieldError, err.Error())
		existing = core.Transaction{ID: id}
	case err != nil:
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	s.logger.InfoContext(ctx, "transaction deleted", log.FieldTxID, id.String())
	s.announce(ctx, amqp.EventDeleted, existing)
	return nil
}

func (s *TransactionService) Get(ctx context.Context, id uuid.UUID) (core.Transaction, error) {
	return s.store.Get(ctx, id)
}

// List returns the transactions of the month containing date.
func (s *TransactionService) List(ctx context.Context, date time.Time) ([]core.Transaction, error) {
	return s.store.Fetch(ctx, date)
}

func (s *TransactionService) build(in TransactionInput) (core.Transaction, error) {
	code := in.Currency
	if strings.TrimSpace(code) == "" {
		code = s.defaultCurrency
	}
	value, err := core.ParseAmount(in.Amount, code)
	if err != nil {
		return core.Transaction{}, err
	}
	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.clock.Now()
	}
	t := core.Transaction{
		ID:          in.ID,
		CreatedAt:   createdAt.UTC().Truncate(time.Second),
		Description: strings.TrimSpace(in.Description),
		Value:       value,
		Category:    strings.TrimSpace(in.Category),
		Tags:        normalizeTags(in.Tags),
		Location:    in.Location,
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}
	return t, nil
}

func (s *TransactionService) currentLocation(ctx context.Context) *core.Location {
	if s.location == nil {
		return nil
	}
	loc, err := s.location.Load(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "current location unavailable", log.FieldError, err.Error())
		return nil
	}
	return loc
}

// announce tells listeners and publishes the event. Publish failures are
// logged; the change is already stored.
func (s *TransactionService) announce(ctx context.Context, typ amqp.EventType, t core.Transaction) {
	for _, fn := range s.listeners {
		fn(Change{Type: typ, Transaction: t})
	}
	if s.publisher == nil {
		return
	}
	ev := amqp.NewTransactionEvent(typ, t.ID, s.clock.Now().UnixNano())
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish transaction event",
			log.FieldTxID, t.ID.String(), "type", string(typ), log.FieldError, err.Error())
	}
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
