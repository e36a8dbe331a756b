package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/coughdetect/internal/conf"
	"github.com/tphakala/coughdetect/internal/errors"
)

func TestNewClient_RequiresBroker(t *testing.T) {
	t.Parallel()

	_, err := NewClient(&conf.MQTTSettings{}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestNewClient_UniqueClientIDs(t *testing.T) {
	t.Parallel()

	settings := &conf.MQTTSettings{Broker: "tcp://127.0.0.1:1883", Topic: "bedroom", Retain: true}
	a, err := NewClient(settings, nil)
	require.NoError(t, err)
	b, err := NewClient(settings, nil)
	require.NoError(t, err)

	ca, cb := a.(*client), b.(*client)
	assert.NotEqual(t, ca.config.ClientID, cb.config.ClientID)
	assert.Contains(t, ca.config.ClientID, "coughdetect-")
	assert.Equal(t, "bedroom", ca.config.Topic)
	assert.True(t, ca.config.Retain)
}

func TestClient_ConnectRejectsBrokerWithoutHost(t *testing.T) {
	t.Parallel()

	c, err := NewClient(&conf.MQTTSettings{Broker: "not a url"}, nil)
	require.NoError(t, err)

	err = c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	assert.False(t, c.IsConnected())
}

func TestClient_ConnectCooldown(t *testing.T) {
	t.Parallel()

	c, err := NewClient(&conf.MQTTSettings{Broker: "::bad"}, nil)
	require.NoError(t, err)

	require.Error(t, c.Connect(context.Background()))
	err = c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTConnection))
	assert.Contains(t, err.Error(), "too recent")
}

func TestClient_ConnectionRefused(t *testing.T) {
	t.Parallel()

	c, err := NewClient(&conf.MQTTSettings{Broker: "tcp://127.0.0.1:1"}, nil)
	require.NoError(t, err)
	c.(*client).config.ConnectTimeout = 2 * time.Second

	err = c.Connect(context.Background())
	require.Error(t, err)
	assert.False(t, c.IsConnected())
	c.Disconnect()
}

func TestClient_PublishRequiresConnection(t *testing.T) {
	t.Parallel()

	c, err := NewClient(&conf.MQTTSettings{Broker: "tcp://127.0.0.1:1883"}, nil)
	require.NoError(t, err)

	err = c.Publish(context.Background(), "coughdetect/events", "{}")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTPublish))

	// disconnecting a client that never connected is harmless
	c.Disconnect()
}
