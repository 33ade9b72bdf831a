package repositoryimpl

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/helmsman-dev/helmsman/internal/session"
	"github.com/helmsman-dev/helmsman/pkg/cerr"
	"github.com/helmsman-dev/helmsman/pkg/storage"
)

const sessionsPrefix = "sessions"

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", sessionsPrefix, id)
}

func (r *YAMLRepository) Create(ctx context.Context, s *session.Session) error {
	exists, err := r.storage.Exists(ctx, path(s.ID))
	if err != nil {
		return cerr.NewError(cerr.Internal, "failed to check session existence", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "session already exists", nil)
	}
	return r.write(ctx, s)
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*session.Session, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, cerr.NewError(cerr.NotFound, fmt.Sprintf("session %s not found", id), err)
	}
	var s session.Session
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, cerr.NewError(cerr.Internal, "failed to unmarshal session", err)
	}
	return &s, nil
}

func (r *YAMLRepository) List(ctx context.Context, projectID string) ([]*session.Session, error) {
	paths, err := r.storage.List(ctx, sessionsPrefix)
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "failed to list sessions", err)
	}
	var sessions []*session.Session
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var s session.Session
		if err := yaml.Unmarshal(data, &s); err != nil {
			continue
		}
		if projectID != "" && s.ProjectID != projectID {
			continue
		}
		sessions = append(sessions, &s)
	}
	return sessions, nil
}

func (r *YAMLRepository) Update(ctx context.Context, s *session.Session) error {
	exists, err := r.storage.Exists(ctx, path(s.ID))
	if err != nil {
		return cerr.NewError(cerr.Internal, "failed to check session existence", err)
	}
	if !exists {
		return cerr.NewError(cerr.NotFound, "session not found", nil)
	}
	return r.write(ctx, s)
}

func (r *YAMLRepository) Delete(ctx context.Context, id string) error {
	if err := r.storage.Delete(ctx, path(id)); err != nil {
		return cerr.NewError(cerr.NotFound, "session not found", err)
	}
	return nil
}

func (r *YAMLRepository) write(ctx context.Context, s *session.Session) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return cerr.NewError(cerr.Internal, "failed to marshal session", err)
	}
	if err := r.storage.Write(ctx, path(s.ID), data); err != nil {
		return cerr.NewError(cerr.Internal, "failed to write session", err)
	}
	return nil
}
