//go:build integration

package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/Sternrassler/crm-export/internal/testutil"
	"github.com/Sternrassler/crm-export/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer creates a Redis container for integration testing.
func setupRedisContainer(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func newTrackedClient(t *testing.T, baseURL string, tracker *ratelimit.Tracker) *Client {
	t.Helper()

	cfg := DefaultConfig("pat-integration")
	cfg.BaseURL = baseURL
	cfg.Retry.InitialBackoff = 10 * time.Millisecond
	cfg.Retry.MaxBackoff = 50 * time.Millisecond
	cfg.RatePolicy = tracker

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return c
}

func TestIntegration_RateStatePersistedInRedis(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	mock := testutil.NewMockCRM()
	defer mock.Close()
	mock.SetResponse("/crm/v3/objects/contacts", testutil.NewPageResponse("", testutil.Contacts(2)...))

	tracker := ratelimit.NewTracker(
		ratelimit.NewRedisStore(redisClient, ""),
		ratelimit.DefaultTrackerConfig(),
		zerolog.Nop(),
	)
	c := newTrackedClient(t, mock.URL(), tracker)

	ctx := context.Background()
	var page struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := c.GetJSON(ctx, "crm/v3/objects/contacts", url.Values{"limit": {"100"}}, &page); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if len(page.Results) != 2 {
		t.Errorf("len(results) = %d, want 2", len(page.Results))
	}

	raw, err := redisClient.Get(ctx, ratelimit.RedisKeyState).Bytes()
	if err != nil {
		t.Fatalf("rate state not written to Redis: %v", err)
	}

	var state ratelimit.State
	if err := json.Unmarshal(raw, &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.Remaining != 99 || state.Max != 100 {
		t.Errorf("state = %+v, want remaining 99 of 100", state)
	}
}

func TestIntegration_SharedDailyBudgetBlocksRequests(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	ctx := context.Background()

	// Another process already spent the daily budget.
	store := ratelimit.NewRedisStore(redisClient, "")
	err := store.Save(ctx, &ratelimit.State{
		Max:            100,
		Remaining:      50,
		Interval:       10 * time.Second,
		ResetAt:        time.Now().Add(10 * time.Second),
		DailyMax:       1000,
		DailyRemaining: 0,
		LastUpdate:     time.Now(),
	})
	if err != nil {
		t.Fatalf("seed state: %v", err)
	}

	mock := testutil.NewMockCRM()
	defer mock.Close()
	mock.SetResponse("/crm/v3/objects/deals", testutil.NewPageResponse(""))

	tracker := ratelimit.NewTracker(store, ratelimit.DefaultTrackerConfig(), zerolog.Nop())
	c := newTrackedClient(t, mock.URL(), tracker)

	var page map[string]any
	err = c.GetJSON(ctx, "crm/v3/objects/deals", nil, &page)
	if !errors.Is(err, ratelimit.ErrDailyLimitExhausted) {
		t.Fatalf("GetJSON() error = %v, want ErrDailyLimitExhausted", err)
	}
	if n := mock.GetRequestCount(); n != 0 {
		t.Errorf("server saw %d requests, want 0", n)
	}
}

func TestIntegration_RateLimitRecovery(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	mock := testutil.NewMockCRM()
	defer mock.Close()
	limited := testutil.NewRateLimitResponse("1")
	limited.Headers[ratelimit.HeaderInterval] = "200"
	mock.SetSequence("/crm/v3/objects/tasks",
		limited,
		testutil.NewPageResponse("", `{"id":"7"}`),
	)

	tracker := ratelimit.NewTracker(
		ratelimit.NewRedisStore(redisClient, "crmexport:test:recovery"),
		ratelimit.TrackerConfig{MinInterval: time.Millisecond, ThrottleDelay: 10 * time.Millisecond, StateMaxAge: time.Minute},
		zerolog.Nop(),
	)
	c := newTrackedClient(t, mock.URL(), tracker)

	var page map[string]any
	if err := c.GetJSON(context.Background(), "crm/v3/objects/tasks", nil, &page); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if n := mock.GetRequestCount(); n != 2 {
		t.Errorf("request count = %d, want 2", n)
	}
}
