package messaging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type qosRecorder struct {
	plain []string
	qos   map[string]byte
}

func (r *qosRecorder) Publish(_ context.Context, topic string, _ []byte) error {
	r.plain = append(r.plain, topic)
	return nil
}

func (r *qosRecorder) PublishQoS(_ context.Context, topic string, qos byte, _ []byte) error {
	if r.qos == nil {
		r.qos = make(map[string]byte)
	}
	r.qos[topic] = qos
	return nil
}

type plainRecorder struct{ topics []string }

func (r *plainRecorder) Publish(_ context.Context, topic string, _ []byte) error {
	r.topics = append(r.topics, topic)
	return nil
}

func TestPublishAtLeastOnce(t *testing.T) {
	q := &qosRecorder{}
	require.NoError(t, PublishAtLeastOnce(context.Background(), q, "acceso/command/a", nil))
	assert.Equal(t, map[string]byte{"acceso/command/a": 1}, q.qos)
	assert.Empty(t, q.plain)

	p := &plainRecorder{}
	require.NoError(t, PublishAtLeastOnce(context.Background(), p, "acceso/command/a", nil))
	assert.Equal(t, []string{"acceso/command/a"}, p.topics)
}
