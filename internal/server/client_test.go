package server

import (
	"testing"
	"time"

	"github.com/npezzotti/go-roomcast/internal/testutil"
	"github.com/npezzotti/go-roomcast/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	user := types.User{Id: "u1", Name: "Ada"}

	c1, err := NewClient(user, nil, testutil.TestLogger(t))
	require.NoError(t, err, "expected no error creating client")
	c2, err := NewClient(user, nil, testutil.TestLogger(t))
	require.NoError(t, err, "expected no error creating client")

	assert.NotEmpty(t, c1.Id(), "expected connection id to be generated")
	assert.NotEqual(t, c1.Id(), c2.Id(), "expected connection ids to be unique")
	assert.Equal(t, user, c1.User())
	assert.Equal(t, sendBufferSize, cap(c1.send))
}

func Test_queueMessage(t *testing.T) {
	t.Run("successful queue", func(t *testing.T) {
		c := &Client{
			send: make(chan []byte, 1),
			log:  testutil.TestLogger(t),
		}

		res := c.queueMessage([]byte(`{}`))
		assert.True(t, res, "expected queueMessage to return true when channel is not full")

		select {
		case msg := <-c.send:
			assert.Equal(t, []byte(`{}`), msg, "expected message to be queued unchanged")
		default:
			t.Error("expected a message to be sent to the client, but none was sent")
		}
	})

	t.Run("channel full", func(t *testing.T) {
		c := &Client{
			send: make(chan []byte, 1),
			log:  testutil.TestLogger(t),
		}

		c.send <- []byte(`{}`)
		res := c.queueMessage([]byte(`{}`))
		assert.False(t, res, "expected queueMessage to return false when channel is full")
	})
}

func Test_stopClient(t *testing.T) {
	c := &Client{
		stop: make(chan struct{}),
	}

	c.stopClient()
	assert.NotPanics(t, c.stopClient, "expected second stop to be a no-op")

	select {
	case <-c.stop:
		// Channel is closed as expected
	default:
		t.Error("expected stop channel to be closed")
	}
}

func Test_lastActivity(t *testing.T) {
	joined := time.Now().Add(-time.Hour)
	c := &Client{joinedAt: joined}

	assert.Equal(t, joined, c.lastActivity(), "expected join time before any activity")

	c.touch()
	assert.WithinDuration(t, time.Now(), c.lastActivity(), time.Second, "expected touch to refresh activity")
}
