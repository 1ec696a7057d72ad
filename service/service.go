// Package service holds the request-level entry points that sit between a
// transport and the strategy store: create-or-replace, move and delete by
// name, plus the mapping of store errors to response statuses.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jacentio/strategystore/store"
)

// DuplicateNameMessage is the client-facing message for a name clash.
const DuplicateNameMessage = "A strategy with that name already exists in that application"

// DAO is the part of store.Store used by Service.
type DAO interface {
	Create(ctx context.Context, existingID string, doc *store.Document) (*store.Document, error)
	Update(ctx context.Context, id string, doc *store.Document) (*store.Document, error)
	Rename(ctx context.Context, application, from, to string) error
	Delete(ctx context.Context, application, name string) error
	GetPipelineID(ctx context.Context, application, name string) (string, error)
	All(ctx context.Context) ([]*store.Document, error)
	GetPipelinesByApplication(ctx context.Context, application string) ([]*store.Document, error)
}

var _ DAO = (*store.Store)(nil)

// MoveRequest renames a strategy within its application.
type MoveRequest struct {
	Application string `json:"application"`
	From        string `json:"from"`
	To          string `json:"to"`
}

// Service implements the strategy entry points on top of a DAO.
type Service struct {
	dao    DAO
	logger *slog.Logger
}

// New creates a new Service.
func New(dao DAO, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{dao: dao, logger: logger}
}

// Save creates doc, or replaces the strategy that already has doc's name
// in doc's application.
func (s *Service) Save(ctx context.Context, doc *store.Document) (*store.Document, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: nil strategy", store.ErrInvalidDocument)
	}
	id, err := s.dao.GetPipelineID(ctx, doc.Application, doc.Name)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return s.dao.Create(ctx, doc.ID, doc)
	case err != nil:
		return nil, err
	default:
		s.logger.Debug("replacing strategy",
			"id", id,
			"application", doc.Application,
			"name", doc.Name,
		)
		return s.dao.Update(ctx, id, doc)
	}
}

// Move renames a strategy.
func (s *Service) Move(ctx context.Context, req MoveRequest) error {
	return s.dao.Rename(ctx, req.Application, req.From, req.To)
}

// DeleteByName deletes the strategy called name in application.
func (s *Service) DeleteByName(ctx context.Context, application, name string) error {
	return s.dao.Delete(ctx, application, name)
}

// List returns the strategies of application, or every strategy when
// application is empty.
func (s *Service) List(ctx context.Context, application string) ([]*store.Document, error) {
	if application == "" {
		return s.dao.All(ctx)
	}
	return s.dao.GetPipelinesByApplication(ctx, application)
}

// Status is StatusFor that also logs errors reported as server errors.
func (s *Service) Status(err error) (int, string) {
	code, msg := StatusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("strategy request failed", "error", err)
	}
	return code, msg
}

// StatusFor maps an error from the store to an HTTP status code and a
// client-facing message. Unexpected errors are reported generically.
func StatusFor(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, store.ErrDuplicateName):
		return http.StatusBadRequest, DuplicateNameMessage
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "Strategy not found"
	case errors.Is(err, store.ErrInvalidDocument):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
	}
}
