package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/fossawork/dispatcher/internal/models"
)

func TestBusDeliversInPublishOrder(t *testing.T) {
	bus := New(arbor.NewLogger())
	sub := bus.Subscribe("job-1", "")
	defer sub.Unsubscribe()

	for i := 0; i < 5; i++ {
		bus.Publish(models.ProgressEvent{JobID: "job-1", Phase: "fill", Percentage: float64(i)})
	}

	for i := 0; i < 5; i++ {
		event := <-sub.Events
		require.Equal(t, float64(i), event.Percentage)
	}
}

func TestBusFiltersByJobAndUser(t *testing.T) {
	bus := New(arbor.NewLogger())
	subJob := bus.Subscribe("job-1", "")
	subUser := bus.Subscribe("", "user-1")
	defer subJob.Unsubscribe()
	defer subUser.Unsubscribe()

	bus.Publish(models.ProgressEvent{JobID: "job-1", UserID: "user-2", Phase: "fill"})
	bus.Publish(models.ProgressEvent{JobID: "job-2", UserID: "user-1", Phase: "submit"})

	select {
	case event := <-subJob.Events:
		require.Equal(t, "job-1", event.JobID)
	case <-time.After(time.Second):
		t.Fatal("job-scoped subscriber never received its event")
	}

	select {
	case event := <-subUser.Events:
		require.Equal(t, "user-1", event.UserID)
	case <-time.After(time.Second):
		t.Fatal("user-scoped subscriber never received its event")
	}
}

func TestBusDropsOldestOnFullBuffer(t *testing.T) {
	bus := New(arbor.NewLogger())
	sub := bus.Subscribe("job-1", "")
	defer sub.Unsubscribe()

	for i := 0; i < subscriberBufferSize+10; i++ {
		bus.Publish(models.ProgressEvent{JobID: "job-1", Percentage: float64(i)})
	}

	require.Len(t, sub.Events, subscriberBufferSize)

	first := <-sub.Events
	require.Greater(t, first.Percentage, float64(0), "oldest entries should have been dropped to make room for the newest")
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(arbor.NewLogger())
	sub := bus.Subscribe("", "")
	sub.Unsubscribe()

	_, ok := <-sub.Events
	require.False(t, ok, "channel should be closed after Unsubscribe")
}

func TestMultipleSubscribersEachReceiveBroadcast(t *testing.T) {
	bus := New(arbor.NewLogger())
	subA := bus.Subscribe("", "")
	subB := bus.Subscribe("", "")
	defer subA.Unsubscribe()
	defer subB.Unsubscribe()

	bus.Publish(models.ProgressEvent{JobID: "job-1", Phase: "submit"})

	for _, sub := range []*Subscription{subA, subB} {
		select {
		case event := <-sub.Events:
			require.Equal(t, "job-1", event.JobID)
		case <-time.After(time.Second):
			t.Fatal("subscriber never received broadcast event")
		}
	}
}
