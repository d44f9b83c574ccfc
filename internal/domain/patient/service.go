package patient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/ehr/patients/internal/platform/validation"
)

var (
	ErrNotFound        = errors.New("patient not found")
	ErrConflict        = errors.New("patient id already exists")
	ErrValidation      = errors.New("validation error")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrCorruptRecord   = errors.New("stored patient record is corrupt")
)

// Sort fields and orders accepted by Service.Sort.
var (
	SortFields = []string{"height", "weight", "bmi"}
	SortOrders = []string{"asc", "desc"}
)

// Service implements the patient operations on top of a Store. Every call
// loads the full collection; mutations rewrite it while holding the write
// lock so concurrent requests cannot overwrite each other's changes.
type Service struct {
	store     Store
	validator *validation.Validator
	logger    zerolog.Logger
	mu        sync.RWMutex
}

func NewService(store Store, v *validation.Validator, logger zerolog.Logger) *Service {
	v.RegisterStructValidation(validatePatient, Patient{})
	return &Service{store: store, validator: v, logger: logger}
}

// validatePatient rejects height and weight combinations whose BMI overflows.
func validatePatient(sl validator.StructLevel) {
	p := sl.Current().Interface().(Patient)
	if !p.finiteBMI() {
		sl.ReportError(p.Height, "bmi", "BMI", "finite", "")
	}
}

// List returns the stored collection as-is.
func (s *Service) List(ctx context.Context) (*Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.Load(ctx)
}

// Get returns a single patient with derived metrics. A stored value that
// does not decode or validate yields ErrCorruptRecord.
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	c, err := s.store.Load(ctx)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	raw, ok := c.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	p, err := s.materialize(id, raw)
	if err != nil {
		return nil, err
	}
	return p.ToRecord(), nil
}

// SortedEntry is one element of a sorted listing. Body is a *Record for
// valid entries and the raw stored fields plus id, bmi and verdict otherwise.
type SortedEntry struct {
	ID   string
	Key  float64
	Body any
}

func (e SortedEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Body)
}

// Sort orders every stored patient by height, weight or bmi. Records that
// fail validation are still listed with bmi 0 and verdict "N/A".
func (s *Service) Sort(ctx context.Context, sortBy, order string) ([]SortedEntry, error) {
	if !slices.Contains(SortFields, sortBy) {
		return nil, fmt.Errorf("%w: sort_by must be one of %v", ErrInvalidArgument, SortFields)
	}
	if !slices.Contains(SortOrders, order) {
		return nil, fmt.Errorf("%w: order must be one of %v, got %q", ErrInvalidArgument, SortOrders, order)
	}

	s.mu.RLock()
	c, err := s.store.Load(ctx)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	entries := make([]SortedEntry, 0, c.Len())
	for _, id := range c.IDs() {
		raw, _ := c.Get(id)
		entries = append(entries, s.sortEntry(id, raw, sortBy))
	}

	desc := order == "desc"
	sort.SliceStable(entries, func(i, j int) bool {
		if desc {
			return entries[i].Key > entries[j].Key
		}
		return entries[i].Key < entries[j].Key
	})
	return entries, nil
}

func (s *Service) sortEntry(id string, raw json.RawMessage, sortBy string) SortedEntry {
	if p, err := s.materialize(id, raw); err == nil {
		r := p.ToRecord()
		var key float64
		switch sortBy {
		case "height":
			key = r.Height
		case "weight":
			key = r.Weight
		case "bmi":
			key = r.BMI
		}
		return SortedEntry{ID: id, Key: key, Body: r}
	}

	fields := map[string]any{}
	_ = json.Unmarshal(raw, &fields)
	if fields == nil {
		fields = map[string]any{}
	}
	fields["id"] = id
	fields["bmi"] = 0
	fields["verdict"] = VerdictUnavailable

	var key float64
	if sortBy != "bmi" {
		key, _ = fields[sortBy].(float64)
	}
	return SortedEntry{ID: id, Key: key, Body: fields}
}

// Create inserts a new patient. An existing id yields ErrConflict and leaves
// the store untouched.
func (s *Service) Create(ctx context.Context, p *Patient) error {
	if err := s.validate(p); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	if c.Has(p.ID) {
		return ErrConflict
	}
	raw, err := p.encode()
	if err != nil {
		return fmt.Errorf("encode patient %s: %w", p.ID, err)
	}
	c.Put(p.ID, raw)
	if err := s.store.Save(ctx, c); err != nil {
		return err
	}
	s.logger.Info().Str("patient_id", p.ID).Msg("patient created")
	return nil
}

// Update merges the supplied fields into the stored patient and validates
// the merged record before writing it back.
func (s *Service) Update(ctx context.Context, id string, u *PatientUpdate) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	raw, ok := c.Get(id)
	if !ok {
		return nil, ErrNotFound
	}

	p := decodeStoredLenient(id, raw)
	u.ApplyTo(p)
	if err := s.validate(p); err != nil {
		return nil, err
	}

	merged, err := p.encode()
	if err != nil {
		return nil, fmt.Errorf("encode patient %s: %w", id, err)
	}
	c.Put(id, merged)
	if err := s.store.Save(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info().Str("patient_id", id).Msg("patient updated")
	return p.ToRecord(), nil
}

// Delete removes the patient with the given id.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	if !c.Delete(id) {
		return ErrNotFound
	}
	if err := s.store.Save(ctx, c); err != nil {
		return err
	}
	s.logger.Info().Str("patient_id", id).Msg("patient deleted")
	return nil
}

// Problem describes a stored record that cannot be materialized.
type Problem struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Verify checks every stored record and reports the ones that are corrupt.
func (s *Service) Verify(ctx context.Context) (int, []Problem, error) {
	s.mu.RLock()
	c, err := s.store.Load(ctx)
	s.mu.RUnlock()
	if err != nil {
		return 0, nil, err
	}

	var problems []Problem
	for _, id := range c.IDs() {
		raw, _ := c.Get(id)
		if _, err := s.materialize(id, raw); err != nil {
			problems = append(problems, Problem{ID: id, Reason: err.Error()})
		}
	}
	return c.Len(), problems, nil
}

// materialize decodes and validates a stored value.
func (s *Service) materialize(id string, raw json.RawMessage) (*Patient, error) {
	p, err := decodeStored(id, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, id, err)
	}
	if err := s.validator.Struct(p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, id, err)
	}
	return p, nil
}

func (s *Service) validate(p *Patient) error {
	if err := s.validator.Struct(p); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}
