package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/sourcegraph/conc/pool"

	"github.com/helmsman-dev/helmsman/internal/config"
)

type payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Notifier pushes to every registered subscription. Subscriptions the
// push service reports as gone are pruned on the spot.
type Notifier struct {
	repo Repository
	env  *config.NotifyEnv
}

func NewNotifier(repo Repository, env *config.NotifyEnv) *Notifier {
	return &Notifier{repo: repo, env: env}
}

// Enabled reports whether VAPID keys are configured. Without them Notify
// is a no-op.
func (n *Notifier) Enabled() bool {
	return n.env.VAPIDPublicKey != "" && n.env.VAPIDPrivateKey != ""
}

func (n *Notifier) Notify(ctx context.Context, title, body string) {
	if !n.Enabled() {
		return
	}
	subs, err := n.repo.List(ctx)
	if err != nil {
		slog.WarnContext(ctx, "failed to list push subscriptions", slog.Any("error", err))
		return
	}
	if len(subs) == 0 {
		return
	}

	data, err := json.Marshal(payload{Title: title, Body: body})
	if err != nil {
		return
	}

	p := pool.New().WithContext(ctx)
	for _, sub := range subs {
		p.Go(func(ctx context.Context) error {
			n.send(ctx, sub, data)
			return nil
		})
	}
	_ = p.Wait()
}

func (n *Notifier) send(ctx context.Context, sub *Subscription, data []byte) {
	resp, err := webpush.SendNotificationWithContext(ctx, data, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		Subscriber:      n.env.VAPIDSubject,
		VAPIDPublicKey:  n.env.VAPIDPublicKey,
		VAPIDPrivateKey: n.env.VAPIDPrivateKey,
		TTL:             60,
	})
	if err != nil {
		slog.WarnContext(ctx, "web push failed",
			slog.String("subscription_id", sub.ID), slog.Any("error", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		if err := n.repo.Delete(ctx, sub.ID); err != nil {
			slog.WarnContext(ctx, "failed to prune dead subscription",
				slog.String("subscription_id", sub.ID), slog.Any("error", err))
		}
	}
}
