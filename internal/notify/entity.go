// Package notify delivers out-of-band notifications for events that may
// need a human while no terminal is attached, primarily pending
// confirmation requests. Delivery is best-effort: a failed push never
// fails the run that triggered it.
package notify

import "time"

// SubscriptionKeys are the browser-supplied encryption keys of one web
// push subscription.
type SubscriptionKeys struct {
	P256dh string `yaml:"p256dh" json:"p256dh"`
	Auth   string `yaml:"auth" json:"auth"`
}

type Subscription struct {
	ID        string           `yaml:"id" json:"id"`
	Endpoint  string           `yaml:"endpoint" json:"endpoint"`
	Keys      SubscriptionKeys `yaml:"keys" json:"keys"`
	CreatedAt time.Time        `yaml:"created_at" json:"created_at"`
}
