package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	data  [][]byte
	attrs []map[string]string
}

func (f *fakePublisher) Publish(_ context.Context, data []byte, attrs map[string]string) (string, error) {
	f.data = append(f.data, data)
	f.attrs = append(f.attrs, attrs)
	return "msg-1", nil
}

func (f *fakePublisher) Close() error { return nil }

func TestPublishJSON(t *testing.T) {
	fake := &fakePublisher{}

	id, err := PublishJSON(context.Background(), fake, map[string]string{"job_id": "32227"},
		map[string]string{"source": "process-geography"})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)

	require.Len(t, fake.data, 1)
	assert.JSONEq(t, `{"job_id": "32227"}`, string(fake.data[0]))
	assert.Equal(t, "process-geography", fake.attrs[0]["source"])
}

func TestPublishJSONRejectsUnmarshalable(t *testing.T) {
	fake := &fakePublisher{}

	_, err := PublishJSON(context.Background(), fake, func() {}, nil)
	require.Error(t, err)
	assert.Empty(t, fake.data)
}
