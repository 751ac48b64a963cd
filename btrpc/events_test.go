package btrpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEventProtocol struct {
	fakeProtocol
}

func (p *fakeEventProtocol) Events() []string {
	return []string{"TorrentAddedEvent", "TorrentRemovedEvent"}
}

func (p *fakeEventProtocol) Subscribe(ctx context.Context, c *Client, event string) error {
	_, err := c.Call(ctx, "subscribe:"+event)
	return err
}

func (p *fakeEventProtocol) Unsubscribe(ctx context.Context, c *Client, event string) error {
	_, err := c.Call(ctx, "unsubscribe:"+event)
	return err
}

func (p *fakeEventProtocol) recordedCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func TestEventHandlers(t *testing.T) {
	ctx := context.Background()
	proto := &fakeEventProtocol{}
	c := newTestClient(t, proto)

	var got []string
	id1, err := c.AddEventHandler(ctx, "TorrentAddedEvent", func(args ...any) {
		got = append(got, "first:"+args[0].(string))
	})
	require.NoError(t, err)
	id2, err := c.AddEventHandler(ctx, "TorrentAddedEvent", func(args ...any) {
		got = append(got, "second:"+args[0].(string))
	})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, c.EventHandlerCount("TorrentAddedEvent"))

	// Only the first handler subscribes, which also connected the client
	assert.Equal(t, []string{"subscribe:TorrentAddedEvent"}, proto.recordedCalls())
	assert.Equal(t, StatusConnected, c.Status())

	c.Emit("TorrentAddedEvent", "abc")
	c.Emit("TorrentRemovedEvent", "abc")
	assert.Equal(t, []string{"first:abc", "second:abc"}, got)

	require.NoError(t, c.RemoveEventHandler(ctx, "TorrentAddedEvent", id1))
	assert.Equal(t, []string{"subscribe:TorrentAddedEvent"}, proto.recordedCalls())

	// Unknown ids are ignored
	require.NoError(t, c.RemoveEventHandler(ctx, "TorrentAddedEvent", id1))

	require.NoError(t, c.RemoveEventHandler(ctx, "TorrentAddedEvent", id2))
	assert.Equal(t, []string{"subscribe:TorrentAddedEvent", "unsubscribe:TorrentAddedEvent"}, proto.recordedCalls())
	assert.Equal(t, 0, c.EventHandlerCount("TorrentAddedEvent"))
}

func TestSameHandlerAddedTwice(t *testing.T) {
	ctx := context.Background()
	proto := &fakeEventProtocol{}
	c := newTestClient(t, proto)

	var runs int
	handler := func(args ...any) { runs++ }
	id1, err := c.AddEventHandler(ctx, "TorrentAddedEvent", handler)
	require.NoError(t, err)
	id2, err := c.AddEventHandler(ctx, "TorrentAddedEvent", handler)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	c.Emit("TorrentAddedEvent")
	assert.Equal(t, 2, runs)

	require.NoError(t, c.RemoveEventHandler(ctx, "TorrentAddedEvent", id1))
	c.Emit("TorrentAddedEvent")
	assert.Equal(t, 3, runs)
	assert.Equal(t, []string{"subscribe:TorrentAddedEvent"}, proto.recordedCalls())

	require.NoError(t, c.RemoveEventHandler(ctx, "TorrentAddedEvent", id2))
	assert.Equal(t, []string{"subscribe:TorrentAddedEvent", "unsubscribe:TorrentAddedEvent"}, proto.recordedCalls())
}

func TestEventSubscriptionsAreRenewed(t *testing.T) {
	ctx := context.Background()
	proto := &fakeEventProtocol{}
	c := newTestClient(t, proto)

	_, err := c.AddEventHandler(ctx, "TorrentRemovedEvent", func(args ...any) {})
	require.NoError(t, err)
	_, err = c.AddEventHandler(ctx, "TorrentAddedEvent", func(args ...any) {})
	require.NoError(t, err)

	require.NoError(t, c.Disconnect(ctx))
	require.NoError(t, c.Connect(ctx))

	assert.Equal(t, []string{
		"subscribe:TorrentRemovedEvent",
		"subscribe:TorrentAddedEvent",
		"subscribe:TorrentAddedEvent",
		"subscribe:TorrentRemovedEvent",
	}, proto.recordedCalls())
}

func TestEventErrors(t *testing.T) {
	ctx := context.Background()

	c := newTestClient(t, &fakeEventProtocol{})
	_, err := c.AddEventHandler(ctx, "NoSuchEvent", func(args ...any) {})
	assert.Equal(t, NewValueError("Unknown event: NoSuchEvent"), err)

	c = newTestClient(t, &fakeProtocol{})
	_, err = c.AddEventHandler(ctx, "TorrentAddedEvent", func(args ...any) {})
	assert.Equal(t, ErrEventsUnsupported, err)
	assert.Equal(t, ErrEventsUnsupported, c.RemoveEventHandler(ctx, "TorrentAddedEvent", 1))
}

func TestFailedSubscriptionDoesNotRegister(t *testing.T) {
	ctx := context.Background()
	proto := &fakeEventProtocol{}
	proto.connectErrs = []error{NewConnectionError("Connection refused")}
	c := newTestClient(t, proto)

	_, err := c.AddEventHandler(ctx, "TorrentAddedEvent", func(args ...any) {})
	assert.Equal(t, NewConnectionError("Connection refused"), err)
	assert.Equal(t, 0, c.EventHandlerCount("TorrentAddedEvent"))
}

func TestWaitForEvent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	proto := &fakeEventProtocol{}
	c := newTestClient(t, proto)

	go func() {
		for c.EventHandlerCount("TorrentAddedEvent") == 0 {
			time.Sleep(time.Millisecond)
		}
		c.Emit("TorrentAddedEvent", "abc", "state")
	}()

	args, err := c.WaitForEvent(ctx, "TorrentAddedEvent")
	require.NoError(t, err)
	assert.Equal(t, []any{"abc", "state"}, args)
	assert.Equal(t, 0, c.EventHandlerCount("TorrentAddedEvent"))
	assert.Equal(t, []string{"subscribe:TorrentAddedEvent", "unsubscribe:TorrentAddedEvent"}, proto.recordedCalls())

	short, cancelShort := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancelShort()
	_, err = c.WaitForEvent(short, "TorrentRemovedEvent")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, c.EventHandlerCount("TorrentRemovedEvent"))

	_, err = c.WaitForEvent(ctx, "NoSuchEvent")
	assert.Equal(t, NewValueError("Unknown event: NoSuchEvent"), err)
}
