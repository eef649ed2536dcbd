package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossing/internal/link"
)

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{Broker: "localhost", Port: 1883}, nil)
	assert.Error(t, err)

	_, err = New(Options{Broker: "localhost", Port: 1883, NodeID: "a/b"}, nil)
	assert.Error(t, err)

	l, err := New(Options{Broker: "localhost", Port: 1883, NodeID: "display"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "crossing", l.opts.TopicPrefix)
	assert.Equal(t, link.Addr("display"), l.LocalAddr())
}

func TestLink_Topics(t *testing.T) {
	l, err := New(Options{Broker: "localhost", Port: 1883, NodeID: "display", TopicPrefix: "lab"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "lab/measure/from/display", l.topicFor("measure", "display"))
	assert.Equal(t, "lab/display/from/+", l.inboxPattern())

	tests := []struct {
		topic string
		want  link.Addr
		ok    bool
	}{
		{topic: "lab/display/from/measure", want: "measure", ok: true},
		{topic: "lab/display/from/", ok: false},
		{topic: "lab/display/from/a/b", ok: false},
		{topic: "lab/other/from/measure", ok: false},
		{topic: "elsewhere", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, ok := l.senderFrom(tt.topic)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLink_SendWhileDisconnected(t *testing.T) {
	l, err := New(Options{Broker: "localhost", Port: 1883, NodeID: "display"}, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, l.Send(context.Background(), "", []byte{1}), link.ErrNoPeer)
	assert.ErrorIs(t, l.Send(context.Background(), "measure", []byte{1}), link.ErrUnreachable)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.ErrorIs(t, l.Send(context.Background(), "measure", []byte{1}), link.ErrClosed)
	assert.ErrorIs(t, l.Connect(context.Background()), link.ErrClosed)
}

func TestLink_SendWithExpiredContext(t *testing.T) {
	l, err := New(Options{Broker: "localhost", Port: 1883, NodeID: "display"}, nil)
	require.NoError(t, err)
	l.setConnected(true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()
	assert.ErrorIs(t, l.Send(ctx, "measure", []byte{1}), context.DeadlineExceeded)

	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Send(ctx, "measure", []byte{1}), context.Canceled)
}
