// Package service implements the tenant-scoped CRUD semantics shared by
// every resource kind. One generic implementation is parameterized by a
// Kind descriptor; the kinds themselves are data, not code.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	domainrepo "github.com/clearops/clearops-gateway/domains/resources/be/repo"
	"github.com/clearops/clearops-gateway/platform/go/persistence"
)

// ValidationError carries field-level schema failures for the 400 body.
type ValidationError struct {
	Reason string
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	return "validation error"
}

// ErrNotFound covers both a genuinely absent row and a row owned by a
// different tenant. Handlers must render both identically.
var ErrNotFound = errors.New("resource not found")

// Document is one resource rendered for the API: the stored payload with
// the row identity and timestamps folded in.
type Document struct {
	ResourceID uuid.UUID
	Fields     map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Body returns the flat object handlers serialize as the data envelope.
func (d Document) Body() map[string]any {
	body := make(map[string]any, len(d.Fields)+3)
	for k, v := range d.Fields {
		body[k] = v
	}
	body["id"] = d.ResourceID.String()
	body["created_at"] = d.CreatedAt.UTC().Format(time.RFC3339)
	body["updated_at"] = d.UpdatedAt.UTC().Format(time.RFC3339)
	return body
}

// ListOptions defines pagination and the optional per-kind filter.
type ListOptions struct {
	Limit  int
	Offset int
	Filter *string
}

// ListResult contains one page plus pagination metadata.
type ListResult struct {
	Items  []Document
	Total  int
	Limit  int
	Offset int
}

// EventSink receives resource lifecycle events for webhook fan-out. The
// call must return promptly; delivery happens out of band.
type EventSink interface {
	Enqueue(tenantID uuid.UUID, event string, data map[string]any)
}

// SchemaValidator is the payload validation collaborator.
type SchemaValidator interface {
	Validate(name string, definition, payload []byte) error
}

// Service exposes the generic resource operations.
type Service interface {
	List(ctx context.Context, kind Kind, tenantID uuid.UUID, opts ListOptions) (ListResult, error)
	Create(ctx context.Context, kind Kind, tenantID uuid.UUID, payload []byte) (Document, error)
	Get(ctx context.Context, kind Kind, tenantID, resourceID uuid.UUID) (Document, error)
	Update(ctx context.Context, kind Kind, tenantID, resourceID uuid.UUID, payload []byte) (Document, error)
	Delete(ctx context.Context, kind Kind, tenantID, resourceID uuid.UUID) error
}

type service struct {
	repo      domainrepo.Repository
	validator SchemaValidator
	events    EventSink
}

// New constructs a Service instance.
func New(repo domainrepo.Repository, validator SchemaValidator, events EventSink) Service {
	if repo == nil {
		panic("resources repository is required")
	}
	if validator == nil {
		panic("schema validator is required")
	}
	if events == nil {
		panic("event sink is required")
	}

	return &service{repo: repo, validator: validator, events: events}
}

func (s *service) List(ctx context.Context, kind Kind, tenantID uuid.UUID, opts ListOptions) (ListResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = kind.DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	result, err := s.repo.List(ctx, kind.Name, persistence.ListResourcesParams{
		TenantID:    tenantID,
		FilterKey:   kind.FilterField,
		FilterValue: opts.Filter,
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		return ListResult{}, translateError(err)
	}

	items := make([]Document, 0, len(result.Records))
	for _, record := range result.Records {
		doc, mapErr := mapRecord(record)
		if mapErr != nil {
			return ListResult{}, mapErr
		}
		items = append(items, doc)
	}

	return ListResult{
		Items:  items,
		Total:  result.TotalItems,
		Limit:  limit,
		Offset: offset,
	}, nil
}

func (s *service) Create(ctx context.Context, kind Kind, tenantID uuid.UUID, payload []byte) (Document, error) {
	clean, err := s.validatePayload(kind.Name+".create", kind.Schema, payload)
	if err != nil {
		return Document{}, err
	}

	record, err := s.repo.Insert(ctx, kind.Name, persistence.InsertResourceParams{
		ResourceID: uuid.New(),
		TenantID:   tenantID,
		Payload:    clean,
	})
	if err != nil {
		return Document{}, translateError(err)
	}

	doc, err := mapRecord(record)
	if err != nil {
		return Document{}, err
	}

	s.events.Enqueue(tenantID, kind.Name+".created", doc.Body())
	return doc, nil
}

func (s *service) Get(ctx context.Context, kind Kind, tenantID, resourceID uuid.UUID) (Document, error) {
	if resourceID == uuid.Nil {
		return Document{}, ErrNotFound
	}

	record, err := s.repo.Get(ctx, kind.Name, tenantID, resourceID)
	if err != nil {
		return Document{}, translateError(err)
	}

	return mapRecord(record)
}

func (s *service) Update(ctx context.Context, kind Kind, tenantID, resourceID uuid.UUID, payload []byte) (Document, error) {
	if resourceID == uuid.Nil {
		return Document{}, ErrNotFound
	}

	clean, err := s.validatePayload(kind.Name+".update", kind.PartialSchema, payload)
	if err != nil {
		return Document{}, err
	}

	record, err := s.repo.Merge(ctx, kind.Name, tenantID, resourceID, clean)
	if err != nil {
		return Document{}, translateError(err)
	}

	doc, err := mapRecord(record)
	if err != nil {
		return Document{}, err
	}

	s.events.Enqueue(tenantID, kind.Name+".updated", doc.Body())
	return doc, nil
}

func (s *service) Delete(ctx context.Context, kind Kind, tenantID, resourceID uuid.UUID) error {
	if resourceID == uuid.Nil {
		return ErrNotFound
	}

	if err := s.repo.Delete(ctx, kind.Name, tenantID, resourceID); err != nil {
		return translateError(err)
	}

	// Only the id goes out: deleted content must not leak via webhooks.
	s.events.Enqueue(tenantID, kind.Name+".deleted", map[string]any{
		"id": resourceID.String(),
	})
	return nil
}

// validatePayload runs the schema check and strips the tenant field. The
// credential, not the body, decides which tenant owns the row.
func (s *service) validatePayload(schemaName string, definition, payload []byte) (json.RawMessage, error) {
	if len(payload) == 0 {
		return nil, &ValidationError{Reason: "request body is required"}
	}

	if err := s.validator.Validate(schemaName, definition, payload); err != nil {
		if fields := persistence.FieldErrorsFromSchema(err); fields != nil {
			return nil, &ValidationError{Reason: "payload failed validation", Fields: fields}
		}
		if errors.Is(err, persistence.ErrPayloadNotObject) {
			return nil, &ValidationError{Reason: "payload must be a JSON object"}
		}
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return nil, &ValidationError{Reason: "payload is not valid JSON"}
		}
		return nil, err
	}

	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, &ValidationError{Reason: "payload is not valid JSON"}
	}
	for _, field := range TenantFields {
		delete(fields, field)
	}

	clean, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return clean, nil
}

func mapRecord(record persistence.ResourceRecord) (Document, error) {
	fields := map[string]any{}
	if len(record.Payload) > 0 {
		if err := json.Unmarshal(record.Payload, &fields); err != nil {
			return Document{}, fmt.Errorf("decode resource payload: %w", err)
		}
	}

	return Document{
		ResourceID: record.ResourceID,
		Fields:     fields,
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
	}, nil
}

func translateError(err error) error {
	switch {
	case errors.Is(err, persistence.ErrResourceNotFound):
		return ErrNotFound
	default:
		var validationErr *jsonschema.ValidationError
		if errors.As(err, &validationErr) {
			return &ValidationError{Reason: "payload failed validation", Fields: persistence.FieldErrorsFromSchema(err)}
		}
		return err
	}
}
