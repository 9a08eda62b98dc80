package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/wildwatch/internal/conf"
	"github.com/tphakala/wildwatch/internal/errors"
)

func TestChunks(t *testing.T) {
	t.Parallel()

	targets := make([]string, 1203)
	for i := range targets {
		targets[i] = fmt.Sprintf("tok-%d", i)
	}
	got := chunks(targets, 0)
	require.Len(t, got, 3)
	assert.Len(t, got[0], 500)
	assert.Len(t, got[2], 203)
	assert.Empty(t, chunks(nil, 10))
}

func TestCircuitBreaker(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 2, Timeout: 20 * time.Millisecond}, "test", nil)
	boom := errors.NewStd("boom")
	fail := func(context.Context) error { return boom }
	ok := func(context.Context) error { return nil }
	ctx := context.Background()

	assert.ErrorIs(t, cb.Call(ctx, fail), boom)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Call(ctx, fail), boom)
	assert.Equal(t, StateOpen, cb.State())

	assert.ErrorIs(t, cb.Call(ctx, ok), ErrCircuitOpen)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, cb.Call(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())

	// cancellation is not a provider failure
	for range 5 {
		_ = cb.Call(ctx, func(context.Context) error { return context.Canceled })
	}
	assert.Equal(t, StateClosed, cb.State())
}

// fcmEmulator answers FCM v1 send calls. Tokens starting with "dead" are
// unregistered, tokens starting with "bad" are rejected as invalid.
type fcmEmulator struct {
	mu     sync.Mutex
	tokens []string
}

func (e *fcmEmulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message struct {
			Token        string            `json:"token"`
			Data         map[string]string `json:"data"`
			Notification struct {
				Title string `json:"title"`
			} `json:"notification"`
		} `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !strings.HasSuffix(r.URL.Path, "/v1/projects/wildwatch-test/messages:send") {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	token := req.Message.Token
	e.mu.Lock()
	e.tokens = append(e.tokens, token)
	e.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasPrefix(token, "dead"):
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Requested entity was not found.","status":"NOT_FOUND",
			"details":[{"@type":"type.googleapis.com/google.firebase.fcm.v1.FcmError","errorCode":"UNREGISTERED"}]}}`))
	case strings.HasPrefix(token, "bad"):
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"invalid token","status":"INVALID_ARGUMENT"}}`))
	default:
		_, _ = fmt.Fprintf(w, `{"name":"projects/wildwatch-test/messages/%s"}`, token)
	}
}

func newTestFCM(t *testing.T, chunkSize int) (*FCMSender, *fcmEmulator) {
	t.Helper()
	emu := &fcmEmulator{}
	server := httptest.NewServer(emu)
	t.Cleanup(server.Close)

	sender, err := NewFCMSender(context.Background(), &conf.PushSettings{
		ChunkSize:   chunkSize,
		Concurrency: 2,
		FCM:         conf.FCMSettings{ProjectID: "wildwatch-test", Endpoint: server.URL + "/"},
	})
	require.NoError(t, err)
	return sender, emu
}

func TestFCMSenderCountsAndDeadTokens(t *testing.T) {
	t.Parallel()
	sender, emu := newTestFCM(t, 2)

	targets := []string{"tok-a", "dead-1", "tok-b", "bad-1", "dead-2"}
	res, err := sender.Send(context.Background(), targets, "새 제보", "goat 0.92", map[string]string{"report_id": "7"})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Success)
	assert.Equal(t, 3, res.Failure)
	assert.ElementsMatch(t, []string{"dead-1", "dead-2"}, res.DeadTokens)
	assert.ElementsMatch(t, targets, emu.tokens)
	assert.Equal(t, ProviderFCM, sender.Name())
}

func TestFCMSenderCancelled(t *testing.T) {
	t.Parallel()
	sender, _ := newTestFCM(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := sender.Send(ctx, []string{"a", "b", "c"}, "t", "b", nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, res.Failure)
	assert.Zero(t, res.Success)
}

func TestShoutrrrSenderConfig(t *testing.T) {
	t.Parallel()

	_, err := NewShoutrrrSender(nil, time.Second)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	_, err = NewShoutrrrSender([]string{"nosuchservice://token@host"}, time.Second)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "token@host")
}

type mockTokenStore struct {
	mock.Mock
}

func (m *mockTokenStore) PushTokensForUsers(ctx context.Context, userIDs []uint) ([]string, error) {
	args := m.Called(ctx, userIDs)
	tokens, _ := args.Get(0).([]string)
	return tokens, args.Error(1)
}

func (m *mockTokenStore) AdminPushTokens(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	tokens, _ := args.Get(0).([]string)
	return tokens, args.Error(1)
}

func (m *mockTokenStore) DeletePushTokens(ctx context.Context, tokens []string) (int64, error) {
	args := m.Called(ctx, tokens)
	return args.Get(0).(int64), args.Error(1)
}

type fakeSender struct {
	name  string
	mu    sync.Mutex
	calls [][]string
	dead  []string
	err   error
	sent  atomic.Int32
}

func (f *fakeSender) Name() string { return f.name }

func (f *fakeSender) Send(_ context.Context, targets []string, _, _ string, _ map[string]string) (Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, targets)
	f.mu.Unlock()
	f.sent.Add(1)
	if f.err != nil {
		return Result{}, f.err
	}
	n := max(1, len(targets))
	return Result{Success: n - len(f.dead), Failure: len(f.dead), DeadTokens: f.dead}, nil
}

func TestDispatcherDeliver(t *testing.T) {
	t.Parallel()

	store := &mockTokenStore{}
	store.On("AdminPushTokens", mock.Anything).Return([]string{"admin-1", "shared"}, nil)
	store.On("PushTokensForUsers", mock.Anything, []uint{7}).Return([]string{"shared", "user-1", "dead-9"}, nil)
	store.On("DeletePushTokens", mock.Anything, []string{"dead-9"}).Return(int64(1), nil)

	mobile := &fakeSender{name: ProviderFCM, dead: []string{"dead-9"}}
	operators := &fakeSender{name: ProviderShoutrrr}
	d := NewDispatcher(DispatcherConfig{Store: store, Mobile: mobile, Operators: operators})

	owner := uint(7)
	res, err := d.Deliver(context.Background(), Notice{ReportID: 1, UserID: &owner, Title: "t", Body: "b"})
	require.NoError(t, err)

	require.Len(t, mobile.calls, 1)
	assert.Equal(t, []string{"admin-1", "dead-9", "shared", "user-1"}, mobile.calls[0])
	assert.Equal(t, 1, len(operators.calls))
	assert.Equal(t, 4, res.Success) // 3 mobile + 1 operator channel
	assert.Equal(t, 1, res.Failure)
	store.AssertExpectations(t)
}

func TestDispatcherDeliverWithoutOwner(t *testing.T) {
	t.Parallel()

	store := &mockTokenStore{}
	store.On("AdminPushTokens", mock.Anything).Return([]string(nil), nil)
	mobile := &fakeSender{name: ProviderFCM}
	d := NewDispatcher(DispatcherConfig{Store: store, Mobile: mobile})

	res, err := d.Deliver(context.Background(), Notice{ReportID: 2})
	require.NoError(t, err)
	assert.Zero(t, res.Success)
	assert.Empty(t, mobile.calls, "no targets, no send")
	store.AssertNotCalled(t, "PushTokensForUsers", mock.Anything, mock.Anything)
}

func TestDispatcherSenderFailureOpensBreaker(t *testing.T) {
	t.Parallel()

	operators := &fakeSender{name: ProviderShoutrrr, err: errors.NewStd("unreachable")}
	d := NewDispatcher(DispatcherConfig{
		Operators: operators,
		Breaker:   CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Hour},
	})

	_, err := d.Deliver(context.Background(), Notice{ReportID: 3})
	require.Error(t, err)
	_, err = d.Deliver(context.Background(), Notice{ReportID: 4})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(1), operators.sent.Load())
}

func TestDispatcherEnqueueOncePerReport(t *testing.T) {
	t.Parallel()

	operators := &fakeSender{name: ProviderShoutrrr}
	d := NewDispatcher(DispatcherConfig{Operators: operators})
	d.Start(2)

	assert.True(t, d.Enqueue(Notice{ReportID: 10}))
	assert.False(t, d.Enqueue(Notice{ReportID: 10}), "same report")
	assert.True(t, d.Enqueue(Notice{ReportID: 11}))

	require.Eventually(t, func() bool { return operators.sent.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, d.Stop(time.Second))
	assert.True(t, d.Stop(time.Second), "stop is idempotent")
}

func TestDispatcherQueueFull(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(DispatcherConfig{QueueSize: 1})
	assert.True(t, d.Enqueue(Notice{ReportID: 1}))
	assert.False(t, d.Enqueue(Notice{ReportID: 2}), "queue full")
	assert.True(t, d.Stop(time.Second))
}

func TestDispatcherEnqueueAfterStop(t *testing.T) {
	t.Parallel()

	operators := &fakeSender{name: ProviderShoutrrr}
	d := NewDispatcher(DispatcherConfig{Operators: operators})
	d.Start(1)
	assert.True(t, d.Stop(time.Second))

	assert.False(t, d.Enqueue(Notice{ReportID: 12}))
	_, marked := d.seen.Get(dedupeKey(12))
	assert.False(t, marked, "rejected notice leaves no dedupe mark")
	assert.Empty(t, d.queue)
	assert.Equal(t, int32(0), operators.sent.Load())
}
