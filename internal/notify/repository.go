package notify

import "context"

type Repository interface {
	Create(ctx context.Context, sub *Subscription) error
	List(ctx context.Context) ([]*Subscription, error)
	Delete(ctx context.Context, id string) error
}
