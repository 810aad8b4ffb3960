package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func passing(context.Context) error { return nil }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

type body struct {
	Status string
	Checks map[string]string
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) body {
	t.Helper()
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var b body
	require.NoError(t, jx.DecodeBytes(w.Body.Bytes()).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			s, err := d.Str()
			b.Status = s
			return err
		case "checks":
			b.Checks = map[string]string{}
			return d.Obj(func(d *jx.Decoder, name string) error {
				s, err := d.Str()
				b.Checks[name] = s
				return err
			})
		default:
			return d.Skip()
		}
	}))
	return b
}

func serve(h http.HandlerFunc) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

func observeN(p *probe, n int) {
	for range n {
		p.observe(context.Background())
	}
}

func TestLiveEndpoint(t *testing.T) {
	h := New()
	h.Register(Check{Name: "goroutines", Func: passing})
	h.Register(Check{Name: "postgres", Kind: Readiness, Func: failing("connection refused")})
	observeN(h.probes[1], 3)

	w := serve(h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody(t, w).Status, "readiness failures do not affect liveness")
}

func TestLiveEndpoint_FailureThreshold(t *testing.T) {
	h := New()
	h.Register(Check{Name: "db", Func: failing("connection refused")})
	p := h.probes[0]

	observeN(p, 2)
	assert.Equal(t, http.StatusOK, serve(h.LiveEndpoint).Code)

	observeN(p, 1)
	w := serve(h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	b := decodeBody(t, w)
	assert.Equal(t, "unhealthy", b.Status)
	assert.Equal(t, "connection refused", b.Checks["db"])
}

func TestReadyEndpoint(t *testing.T) {
	h := New()
	h.Register(Check{Name: "redis", Kind: Readiness, Func: passing})

	w := serve(h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "service is not ready", decodeBody(t, w).Checks["_readiness"])
	assert.False(t, h.IsReady())

	h.SetReady(true)
	w = serve(h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, h.IsReady())

	h.SetReady(false)
	assert.Equal(t, http.StatusServiceUnavailable, serve(h.ReadyEndpoint).Code)
}

func TestReadyEndpoint_OneFailing(t *testing.T) {
	h := New()
	h.SetReady(true)
	h.Register(Check{Name: "postgres", Kind: Readiness, Func: passing})
	h.Register(Check{Name: "redis", Kind: Readiness, Func: failing("dial tcp: refused"), FailureThreshold: 1})
	observeN(h.probes[1], 1)

	w := serve(h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	b := decodeBody(t, w)
	assert.Equal(t, map[string]string{"redis": "dial tcp: refused"}, b.Checks)
	assert.False(t, h.IsReady())
}

func TestProbeRecovery(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	h := New()
	h.Register(Check{
		Name:             "mongo",
		Kind:             Readiness,
		SuccessThreshold: 2,
		Func: func(context.Context) error {
			if fail.Load() {
				return errors.New("down")
			}
			return nil
		},
	})
	h.SetReady(true)
	p := h.probes[0]

	observeN(p, 3)
	require.False(t, h.IsReady())

	fail.Store(false)
	observeN(p, 1)
	assert.False(t, h.IsReady(), "one success is below the threshold")
	observeN(p, 1)
	assert.True(t, h.IsReady())
}

func TestProbeTimeout(t *testing.T) {
	h := New()
	h.Register(Check{
		Name:             "slow",
		Timeout:          10 * time.Millisecond,
		FailureThreshold: 1,
		Func: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	observeN(h.probes[0], 1)

	b := decodeBody(t, serve(h.LiveEndpoint))
	assert.Equal(t, context.DeadlineExceeded.Error(), b.Checks["slow"])
}

func TestStartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	var mu sync.Mutex
	calls := 0
	h := New()
	h.Register(Check{Name: "counter", Func: func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil
	}})

	h.Start(context.Background(), 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 3
	}, time.Second, 5*time.Millisecond)

	h.Stop()
	h.Stop()
}

func TestConcurrentAccess(t *testing.T) {
	h := New()
	h.Register(Check{Name: "flaky", Kind: Readiness, Func: failing("x"), FailureThreshold: 1})
	h.SetReady(true)
	h.Start(context.Background(), time.Millisecond)
	defer h.Stop()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				_ = h.IsReady()
				serve(h.ReadyEndpoint)
			}
		}()
	}
	wg.Wait()
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestPingCheck(t *testing.T) {
	ok := PingCheck("postgres", pingerFunc(func(context.Context) error { return nil }))
	assert.NoError(t, ok(context.Background()))

	bad := PingCheck("redis", pingerFunc(func(context.Context) error { return errors.New("refused") }))
	err := bad(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping redis")
	assert.Contains(t, err.Error(), "refused")
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))
	assert.Error(t, GoroutineCountCheck(0)(context.Background()))
}
