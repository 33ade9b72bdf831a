package repositoryimpl

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/helmsman-dev/helmsman/internal/todo"
	"github.com/helmsman-dev/helmsman/pkg/cerr"
	"github.com/helmsman-dev/helmsman/pkg/storage"
)

const itemsPrefix = "items"

// YAMLRepository persists work items as one yaml document per item.
type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", itemsPrefix, id)
}

func (r *YAMLRepository) Create(ctx context.Context, item *todo.Item) error {
	exists, err := r.storage.Exists(ctx, path(item.ID))
	if err != nil {
		return cerr.NewError(cerr.Internal, "failed to check item existence", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "item already exists", nil)
	}
	return r.write(ctx, item)
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*todo.Item, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, cerr.NewError(cerr.NotFound, "item not found", err)
	}
	var item todo.Item
	if err := yaml.Unmarshal(data, &item); err != nil {
		return nil, cerr.NewError(cerr.Internal, "failed to unmarshal item", err)
	}
	return &item, nil
}

func (r *YAMLRepository) List(ctx context.Context, sessionID string) ([]*todo.Item, error) {
	paths, err := r.storage.List(ctx, itemsPrefix)
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "failed to list items", err)
	}
	var items []*todo.Item
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var item todo.Item
		if err := yaml.Unmarshal(data, &item); err != nil {
			continue
		}
		if sessionID != "" && item.SessionID != sessionID {
			continue
		}
		items = append(items, &item)
	}
	return items, nil
}

func (r *YAMLRepository) Update(ctx context.Context, item *todo.Item) error {
	exists, err := r.storage.Exists(ctx, path(item.ID))
	if err != nil {
		return cerr.NewError(cerr.Internal, "failed to check item existence", err)
	}
	if !exists {
		return cerr.NewError(cerr.NotFound, "item not found", nil)
	}
	return r.write(ctx, item)
}

func (r *YAMLRepository) Delete(ctx context.Context, id string) error {
	if err := r.storage.Delete(ctx, path(id)); err != nil {
		return cerr.NewError(cerr.NotFound, "item not found", err)
	}
	return nil
}

func (r *YAMLRepository) write(ctx context.Context, item *todo.Item) error {
	data, err := yaml.Marshal(item)
	if err != nil {
		return cerr.NewError(cerr.Internal, "failed to marshal item", err)
	}
	if err := r.storage.Write(ctx, path(item.ID), data); err != nil {
		return cerr.NewError(cerr.Internal, "failed to write item", err)
	}
	return nil
}
