package repositoryimpl

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/helmsman-dev/helmsman/internal/notify"
	"github.com/helmsman-dev/helmsman/pkg/cerr"
	"github.com/helmsman-dev/helmsman/pkg/storage"
)

const subscriptionsPrefix = "subscriptions"

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", subscriptionsPrefix, id)
}

func (r *YAMLRepository) Create(ctx context.Context, sub *notify.Subscription) error {
	data, err := yaml.Marshal(sub)
	if err != nil {
		return cerr.NewError(cerr.Internal, "failed to marshal subscription", err)
	}
	if err := r.storage.Write(ctx, path(sub.ID), data); err != nil {
		return cerr.NewError(cerr.Internal, "failed to write subscription", err)
	}
	return nil
}

func (r *YAMLRepository) List(ctx context.Context) ([]*notify.Subscription, error) {
	paths, err := r.storage.List(ctx, subscriptionsPrefix)
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "failed to list subscriptions", err)
	}
	var subs []*notify.Subscription
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var sub notify.Subscription
		if err := yaml.Unmarshal(data, &sub); err != nil {
			continue
		}
		subs = append(subs, &sub)
	}
	return subs, nil
}

func (r *YAMLRepository) Delete(ctx context.Context, id string) error {
	if err := r.storage.Delete(ctx, path(id)); err != nil {
		return cerr.NewError(cerr.NotFound, "subscription not found", err)
	}
	return nil
}
