package comm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ric/wire"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newPair(t *testing.T) (initiator, acceptor *Communicator) {
	t.Helper()
	ac, bc := Pipe()
	log := testLogger()
	initiator = New(ac, RoleInitiator, log)
	acceptor = New(bc, RoleAcceptor, log)
	t.Cleanup(func() {
		initiator.Dispose()
		acceptor.Dispose()
	})
	return initiator, acceptor
}

func TestCallRoundTrip(t *testing.T) {
	t.Cleanup(leaktest.Check(t))
	a, b := newPair(t)

	b.SetRequestHandler("echo", func(ctx context.Context, name string, data json.RawMessage) Response {
		return Response{Status: StatusSuccess, Data: data}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rsp, err := a.Call(ctx, "echo", json.RawMessage(`{"n":1}`))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, rsp.Status)
	assert.JSONEq(t, `{"n":1}`, string(rsp.Data))
}

func TestDuplexRequests(t *testing.T) {
	t.Cleanup(leaktest.Check(t))
	a, b := newPair(t)

	a.SetRequestHandler("whoami", func(ctx context.Context, name string, data json.RawMessage) Response {
		return Response{Status: StatusSuccess, Data: json.RawMessage(`{"side":"initiator"}`)}
	})
	b.SetRequestHandler("whoami", func(ctx context.Context, name string, data json.RawMessage) Response {
		return Response{Status: StatusSuccess, Data: json.RawMessage(`{"side":"acceptor"}`)}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rsp, err := a.Call(ctx, "whoami", wire.EmptyData)
	require.NoError(t, err)
	assert.JSONEq(t, `{"side":"acceptor"}`, string(rsp.Data))

	rsp, err = b.Call(ctx, "whoami", wire.EmptyData)
	require.NoError(t, err)
	assert.JSONEq(t, `{"side":"initiator"}`, string(rsp.Data))
}

func TestResponsesResolveOutOfOrder(t *testing.T) {
	t.Cleanup(leaktest.Check(t))
	a, b := newPair(t)

	// Later requests answer sooner; each waiter must still get its own
	// response.
	b.SetRequestHandler("delay", func(ctx context.Context, name string, data json.RawMessage) Response {
		var req struct {
			N int `json:"n"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return Response{Status: "unknown_error", Data: wire.EmptyData}
		}
		time.Sleep(time.Duration(50-10*req.N) * time.Millisecond)
		return Response{Status: StatusSuccess, Data: data}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const n = 4
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rsp, err := a.Call(ctx, "delay", json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)))
			assert.NoError(t, err)
			assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i), string(rsp.Data))
		}(i)
	}
	wg.Wait()
}

func TestWaitForUnknownConversation(t *testing.T) {
	t.Cleanup(leaktest.Check(t))
	a, _ := newPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := a.WaitForResponse(ctx, 12345)
	assert.ErrorIs(t, err, ErrUnknownConversation)
}

func TestDisposeCancelsPendingWaits(t *testing.T) {
	t.Cleanup(leaktest.Check(t))
	ac, bc := Pipe()
	log := testLogger()
	a := New(ac, RoleInitiator, log)
	b := New(bc, RoleAcceptor, log)
	defer b.Dispose()

	block := make(chan struct{})
	b.SetRequestHandler("stall", func(ctx context.Context, name string, data json.RawMessage) Response {
		<-block
		return Response{Status: StatusSuccess, Data: wire.EmptyData}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const n = 5
	var wg sync.WaitGroup
	started := make(chan uint32, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := a.SendRequest("stall", wire.EmptyData)
			if !assert.NoError(t, err) {
				return
			}
			started <- id
			_, err = a.WaitForResponse(ctx, id)
			assert.ErrorIs(t, err, ErrClosed)
		}()
	}
	for i := 0; i < n; i++ {
		<-started
	}

	close(block)
	a.Dispose()
	wg.Wait()

	// Disposal is idempotent and further requests are refused.
	a.Dispose()
	_, err := a.SendRequest("stall", wire.EmptyData)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPanickingHandlerAnswersUnknownError(t *testing.T) {
	t.Cleanup(leaktest.Check(t))
	a, b := newPair(t)

	b.SetRequestHandler("boom", func(ctx context.Context, name string, data json.RawMessage) Response {
		panic("handler bug")
	})
	b.SetRequestHandler("ok", func(ctx context.Context, name string, data json.RawMessage) Response {
		return Response{Status: StatusSuccess, Data: wire.EmptyData}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rsp, err := a.Call(ctx, "boom", wire.EmptyData)
	require.NoError(t, err)
	assert.Equal(t, "unknown_error", rsp.Status)

	// The connection survives the panic.
	rsp, err = a.Call(ctx, "ok", wire.EmptyData)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, rsp.Status)
}

func TestMessageHandler(t *testing.T) {
	t.Cleanup(leaktest.Check(t))
	a, b := newPair(t)

	got := make(chan string, 1)
	b.SetMessageHandler("note", func(ctx context.Context, name string, data json.RawMessage) {
		var req struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(data, &req); err == nil {
			got <- req.Text
		}
	})

	require.NoError(t, a.SendMessage("note", json.RawMessage(`{"text":"hi"}`)))
	select {
	case text := <-got:
		assert.Equal(t, "hi", text)
	case <-time.After(5 * time.Second):
		t.Fatal("message never delivered")
	}
}

func TestClearHandlers(t *testing.T) {
	t.Cleanup(leaktest.Check(t))
	a, b := newPair(t)

	b.SetRequestHandler("op", func(ctx context.Context, name string, data json.RawMessage) Response {
		return Response{Status: StatusSuccess, Data: wire.EmptyData}
	})
	b.ClearRequestHandler("op")

	// With no handler the request is dropped; the wait times out rather than
	// resolving.
	id, err := a.SendRequest("op", wire.EmptyData)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = a.WaitForResponse(ctx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConversationIDsDoNotCollide(t *testing.T) {
	t.Cleanup(leaktest.Check(t))
	a, b := newPair(t)

	seen := make(map[uint32]bool)
	var mu sync.Mutex
	record := func(id uint32) {
		mu.Lock()
		defer mu.Unlock()
		assert.False(t, seen[id], "conversation id %d reused across peers", id)
		seen[id] = true
	}

	for i := 0; i < 10; i++ {
		id, err := a.SendRequest("nop", wire.EmptyData)
		require.NoError(t, err)
		record(id)
		id, err = b.SendRequest("nop", wire.EmptyData)
		require.NoError(t, err)
		record(id)
	}
}
