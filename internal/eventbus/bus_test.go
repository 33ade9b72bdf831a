package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-dev/helmsman/internal/event"
)

func TestPublishPreservesOrder(t *testing.T) {
	bus := New()
	id, ch := bus.Subscribe(8)
	defer bus.Unsubscribe(id)

	for _, detail := range []string{"one", "two", "three"} {
		ev := event.New("sess", event.KindStageTransition)
		ev.Detail = detail
		bus.Publish(ev)
	}

	assert.Equal(t, "one", (<-ch).Detail)
	assert.Equal(t, "two", (<-ch).Detail)
	assert.Equal(t, "three", (<-ch).Detail)
}

func TestSubscribeWithReplay(t *testing.T) {
	bus := New()

	first := event.New("sess", event.KindStageTransition)
	first.Detail = "before"
	bus.Publish(first)

	id, replay, ch := bus.SubscribeWithReplay(8)
	defer bus.Unsubscribe(id)

	require.Len(t, replay, 1)
	assert.Equal(t, "before", replay[0].Detail)

	second := event.New("sess", event.KindStageTransition)
	second.Detail = "after"
	bus.Publish(second)
	assert.Equal(t, "after", (<-ch).Detail)
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := New()
	id, ch := bus.Subscribe(1)
	defer bus.Unsubscribe(id)

	// The second publish must not block even though nobody is reading.
	bus.Publish(event.New("sess", event.KindToolStarted))
	bus.Publish(event.New("sess", event.KindToolFinished))

	ev := <-ch
	assert.Equal(t, event.KindToolStarted, ev.Kind)
	select {
	case extra := <-ch:
		t.Fatalf("expected dropped event, got %v", extra.Kind)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New()
	id, ch := bus.Subscribe(1)
	bus.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing after unsubscribe must not panic.
	bus.Publish(event.New("sess", event.KindRunFinished))
}
