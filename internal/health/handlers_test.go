package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kopi-pos/internal/health"
)

type stubChecker struct {
	dbErr    error
	redisErr error
}

func (s stubChecker) PingDB(context.Context, time.Duration) error    { return s.dbErr }
func (s stubChecker) PingRedis(context.Context, time.Duration) error { return s.redisErr }

func ready(t *testing.T, h health.Handler) (int, map[string]string) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return rr.Code, body
}

func TestLive(t *testing.T) {
	rr := httptest.NewRecorder()
	health.Handler{}.Live(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}

func TestReady(t *testing.T) {
	code, body := ready(t, health.Handler{Checker: stubChecker{}})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, map[string]string{"db": "ok", "redis": "ok"}, body)
}

func TestReadyHidesProbeErrors(t *testing.T) {
	h := health.Handler{Checker: stubChecker{dbErr: errors.New("dial tcp postgres://pos:secret@db:5432")}}
	code, body := ready(t, h)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "down", body["db"])
	require.Equal(t, "ok", body["redis"])
}

func TestReadyWithoutChecker(t *testing.T) {
	code, _ := ready(t, health.Handler{})
	require.Equal(t, http.StatusServiceUnavailable, code)
}

func TestReadyDrainsDuringShutdown(t *testing.T) {
	t.Cleanup(func() { health.SetReady(true) })
	h := health.Handler{Checker: stubChecker{}}

	health.SetReady(false)
	code, body := ready(t, h)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "draining", body["status"])

	health.SetReady(true)
	code, _ = ready(t, h)
	require.Equal(t, http.StatusOK, code)
}

func TestProbes(t *testing.T) {
	ctx := context.Background()
	require.Error(t, health.Probes{}.PingDB(ctx, time.Millisecond))
	require.Error(t, health.Probes{}.PingRedis(ctx, time.Millisecond))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, health.Probes{Redis: client}.PingRedis(ctx, time.Second))

	mr.Close()
	require.Error(t, health.Probes{Redis: client}.PingRedis(ctx, 100*time.Millisecond))
}
