package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublish_DeliversToSubscriber(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe(TopicJobStateChange)
	defer cancel()

	b.Publish(TopicJobStateChange, "job-1 completed")

	select {
	case evt := <-ch:
		require.Equal(t, TopicJobStateChange, evt.Topic)
		require.Equal(t, "job-1 completed", evt.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublish_DoesNotDeliverToOtherTopics(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe(TopicScanProgress)
	defer cancel()

	b.Publish(TopicJobStateChange, "irrelevant")

	select {
	case evt := <-ch:
		t.Fatalf("unexpected event on unrelated topic: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublish_DropsOldestWhenSubscriberLags(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe(TopicRateLimitPressure)
	defer cancel()

	for i := 0; i < subscriberBufferSize+10; i++ {
		b.Publish(TopicRateLimitPressure, i)
	}

	first := <-ch
	require.NotEqual(t, 0, first.Payload, "oldest events should have been dropped")
}

func TestCancel_StopsDelivery(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe(TopicProviderHealth)
	cancel()

	b.Publish(TopicProviderHealth, "after cancel")

	_, ok := <-ch
	require.False(t, ok, "channel should be closed after cancel")
}
