package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/nova/internal/domain"
	"github.com/kailas-cloud/nova/internal/domain/body"
	"github.com/kailas-cloud/nova/internal/ratelimit"
)

func echo(ctx context.Context, params body.Params) (any, error) {
	inv, _ := InvocationFromContext(ctx)
	return map[string]any{"user": inv.UserID, "params": params}, nil
}

func TestServer_RegisterAndCall(t *testing.T) {
	s := NewServer(nil, nil)
	require.NoError(t, s.Register("echo", echo))
	assert.ErrorIs(t, s.Register("echo", echo), domain.ErrAlreadyRegistered)
	assert.Error(t, s.Register("nil", nil))
	assert.Equal(t, []string{"echo"}, s.Methods())
	assert.True(t, s.Has("echo"))
	assert.False(t, s.Has("missing"))

	out, err := s.Call(context.Background(), Call{
		Method: "echo", ConnID: "c1", UserID: "u1", Params: body.Params{"a": 1},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"user": "u1", "params": body.Params{"a": 1}}, out)

	_, err = s.Call(context.Background(), Call{Method: "missing"})
	assert.ErrorIs(t, err, domain.ErrMethodNotFound)
}

// blockingHandler signals started and waits for gate. When unblock is set the
// connection is released first.
func blockingHandler(started chan<- string, gate <-chan struct{}, unblock bool) Handler {
	return func(ctx context.Context, params body.Params) (any, error) {
		inv, _ := InvocationFromContext(ctx)
		if unblock {
			inv.Unblock()
		}
		started <- params["id"].(string)
		<-gate
		return nil, nil
	}
}

func TestServer_SerializesPerConnection(t *testing.T) {
	s := NewServer(nil, nil)
	started := make(chan string, 2)
	gate := make(chan struct{})
	require.NoError(t, s.Register("slow", blockingHandler(started, gate, false)))

	done := make(chan struct{}, 2)
	call := func(id string) {
		_, _ = s.Call(context.Background(), Call{Method: "slow", ConnID: "c", Params: body.Params{"id": id}})
		done <- struct{}{}
	}

	go call("first")
	assert.Equal(t, "first", <-started)
	go call("second")

	select {
	case id := <-started:
		t.Fatalf("%s started while the connection was busy", id)
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	assert.Equal(t, "second", <-started)
	<-done
	<-done
}

func TestServer_UnblockReleasesConnection(t *testing.T) {
	s := NewServer(nil, nil)
	started := make(chan string, 2)
	gate := make(chan struct{})
	require.NoError(t, s.Register("slow", blockingHandler(started, gate, true)))

	for _, id := range []string{"first", "second"} {
		go func() {
			_, _ = s.Call(context.Background(), Call{Method: "slow", ConnID: "c", Params: body.Params{"id": id}})
		}()
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatalf("%s did not start", id)
		}
	}
	close(gate)
}

func TestServer_WaitingCallHonoursContext(t *testing.T) {
	s := NewServer(nil, nil)
	started := make(chan string, 1)
	gate := make(chan struct{})
	defer close(gate)
	require.NoError(t, s.Register("slow", blockingHandler(started, gate, false)))

	go func() {
		_, _ = s.Call(context.Background(), Call{Method: "slow", ConnID: "c", Params: body.Params{"id": "first"}})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Call(ctx, Call{Method: "slow", ConnID: "c", Params: body.Params{"id": "second"}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestServer_RateLimit(t *testing.T) {
	s := NewServer(ratelimit.New(), nil)
	require.NoError(t, s.Register("echo", echo))
	require.NoError(t, s.AddRateLimit(ratelimit.Rule{Limit: 1, Time: time.Hour, Message: "easy"}, "echo"))

	ctx := context.Background()
	_, err := s.Call(ctx, Call{Method: "echo", ConnID: "c"})
	require.NoError(t, err)
	_, err = s.Call(ctx, Call{Method: "echo", ConnID: "c"})
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.EqualError(t, err, "echo: easy")

	s.Disconnect("c")
	_, err = s.Call(ctx, Call{Method: "echo", ConnID: "c"})
	assert.NoError(t, err)
}
