package sse

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/wa-session-broker/internal/model"
)

func TestBroker_InProcess(t *testing.T) {
	t.Run("delivers notifications to subscribers of the session only", func(t *testing.T) {
		b := NewBroker(nil)
		defer b.Close()
		mine := b.Subscribe("s1")
		other := b.Subscribe("s2")

		err := b.Notify(context.Background(), model.Notification{
			Type:      model.NotificationStatus,
			SessionID: "s1",
			Session:   &model.Session{ID: "s1", State: model.SessionStateConnected},
			At:        time.Now(),
		})
		require.NoError(t, err)

		select {
		case ev := <-mine.Events:
			assert.Equal(t, model.NotificationStatus, ev.Type)
			var n model.Notification
			require.NoError(t, json.Unmarshal(ev.Data, &n))
			assert.Equal(t, model.SessionStateConnected, n.Session.State)
		case <-time.After(time.Second):
			t.Fatal("no event delivered")
		}
		assert.Empty(t, other.Events)
	})

	t.Run("unsubscribe closes done once", func(t *testing.T) {
		b := NewBroker(nil)
		c := b.Subscribe("s1")
		assert.Equal(t, 1, b.ClientCount("s1"))

		b.Unsubscribe(c)
		b.Unsubscribe(c)

		assert.Equal(t, 0, b.TotalClients())
		select {
		case <-c.Done:
		default:
			t.Fatal("done not closed")
		}
	})

	t.Run("drops events when a client buffer is full", func(t *testing.T) {
		b := NewBroker(nil)
		defer b.Close()
		c := b.Subscribe("s1")

		for i := 0; i < clientBufferSize+5; i++ {
			require.NoError(t, b.Publish(context.Background(), "s1", Event{Type: "status"}))
		}

		assert.Len(t, c.Events, clientBufferSize)
	})
}
