package persistence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping persistence integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("clearops"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp").WithStartupTimeout(2*time.Minute)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pgContainer.Terminate(context.Background())
	})

	connString, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, PoolConfig{ConnString: connString})
	require.NoError(t, err)
	t.Cleanup(func() {
		ClosePool(pool)
	})

	return pool
}

func TestCredentialStoreIntegration(t *testing.T) {
	t.Parallel()

	pool := startPostgres(t)
	ctx := context.Background()

	store, err := NewCredentialStore(ctx, pool)
	require.NoError(t, err)

	tenantID := uuid.New()
	created, err := store.CreateCredential(ctx, CreateCredentialParams{
		CredentialID:       uuid.New(),
		TenantID:           tenantID,
		Name:               "integration key",
		KeyPrefix:          "cg_123456789",
		KeyHash:            "deadbeef",
		Permissions:        []string{"read", "write"},
		RateLimitPerMinute: 60,
	})
	require.NoError(t, err)
	require.True(t, created.IsActive)
	require.Nil(t, created.LastUsedAt)

	found, err := store.GetCredentialByHash(ctx, "deadbeef")
	require.NoError(t, err)
	require.Equal(t, created.CredentialID, found.CredentialID)
	require.Equal(t, tenantID, found.TenantID)
	require.Equal(t, []string{"read", "write"}, found.Permissions)

	_, err = store.GetCredentialByHash(ctx, "unknown-hash")
	require.ErrorIs(t, err, ErrCredentialNotFound)

	require.NoError(t, store.TouchLastUsed(ctx, created.CredentialID))
	touched, err := store.GetCredentialByHash(ctx, "deadbeef")
	require.NoError(t, err)
	require.NotNil(t, touched.LastUsedAt)

	require.NoError(t, store.RevokeCredential(ctx, created.CredentialID))
	revoked, err := store.GetCredentialByHash(ctx, "deadbeef")
	require.NoError(t, err)
	require.False(t, revoked.IsActive)
}

func TestUsageStoreWindowCountIntegration(t *testing.T) {
	t.Parallel()

	pool := startPostgres(t)
	ctx := context.Background()

	store, err := NewUsageStore(ctx, pool)
	require.NoError(t, err)

	credentialID := uuid.New()
	tenantID := uuid.New()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.InsertUsage(ctx, InsertUsageParams{
			CredentialID: credentialID,
			TenantID:     tenantID,
			Endpoint:     "/leads",
			Method:       "GET",
			StatusCode:   200,
			LatencyMs:    12,
		}))
	}

	// a different credential's traffic must not count
	require.NoError(t, store.InsertUsage(ctx, InsertUsageParams{
		CredentialID: uuid.New(),
		TenantID:     tenantID,
		Endpoint:     "/leads",
		Method:       "GET",
		StatusCode:   200,
		LatencyMs:    12,
	}))

	count, err := store.CountSince(ctx, credentialID, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Equal(t, 5, count)

	count, err = store.CountSince(ctx, credentialID, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestSubscriptionStoreIntegration(t *testing.T) {
	t.Parallel()

	pool := startPostgres(t)
	ctx := context.Background()

	store, err := NewSubscriptionStore(ctx, pool)
	require.NoError(t, err)

	tenantID := uuid.New()
	sub, err := store.CreateSubscription(ctx, CreateSubscriptionParams{
		SubscriptionID: uuid.New(),
		TenantID:       tenantID,
		URL:            "https://hooks.example.com/receiver",
		Secret:         "whsec_integration",
		Events:         []string{"lead.created", "lead.deleted"},
	})
	require.NoError(t, err)

	matched, err := store.ListActiveForEvent(ctx, tenantID, "lead.created")
	require.NoError(t, err)
	require.Len(t, matched, 1)
	require.Equal(t, sub.SubscriptionID, matched[0].SubscriptionID)

	matched, err = store.ListActiveForEvent(ctx, tenantID, "task.created")
	require.NoError(t, err)
	require.Empty(t, matched)

	matched, err = store.ListActiveForEvent(ctx, uuid.New(), "lead.created")
	require.NoError(t, err)
	require.Empty(t, matched)

	require.NoError(t, store.RecordDeliveryOutcome(ctx, sub.SubscriptionID, true, "delivered"))
	require.NoError(t, store.RecordDeliveryOutcome(ctx, sub.SubscriptionID, false, "failed"))

	updated, err := store.GetSubscription(ctx, sub.SubscriptionID)
	require.NoError(t, err)
	require.Equal(t, int64(2), updated.TotalDeliveries)
	require.Equal(t, int64(1), updated.SuccessfulDeliveries)
	require.Equal(t, int64(1), updated.FailedDeliveries)
	require.NotNil(t, updated.LastDeliveryAt)
	require.NotNil(t, updated.LastDeliveryStatus)
	require.Equal(t, "failed", *updated.LastDeliveryStatus)

	require.NoError(t, store.DeactivateSubscription(ctx, sub.SubscriptionID))
	matched, err = store.ListActiveForEvent(ctx, tenantID, "lead.created")
	require.NoError(t, err)
	require.Empty(t, matched)
}

func TestDeliveryStoreRetryLifecycleIntegration(t *testing.T) {
	t.Parallel()

	pool := startPostgres(t)
	ctx := context.Background()

	store, err := NewDeliveryStore(ctx, pool)
	require.NoError(t, err)

	subscriptionID := uuid.New()
	delivery, err := store.CreatePendingDelivery(ctx, CreateDeliveryParams{
		SubscriptionID: subscriptionID,
		Event:          "lead.created",
		Payload:        json.RawMessage(`{"event":"lead.created"}`),
	})
	require.NoError(t, err)
	require.Equal(t, DeliveryPending, delivery.Status)
	require.Equal(t, 4, delivery.MaxAttempts)

	// first attempt fails with a retry due in the past
	due := time.Now().Add(-time.Minute)
	status := 503
	require.NoError(t, store.MarkFailed(ctx, delivery.DeliveryID, AttemptOutcome{
		ResponseStatus: &status,
		ResponseBody:   "try later",
		LatencyMs:      40,
		NextRetryAt:    &due,
	}))

	claimed, err := store.ClaimDueRetries(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, delivery.DeliveryID, claimed[0].DeliveryID)
	require.Equal(t, DeliveryPending, claimed[0].Status)
	require.Equal(t, 1, claimed[0].AttemptCount)
	require.Nil(t, claimed[0].NextRetryAt)

	// claiming again finds nothing: the row is pending now
	claimed, err = store.ClaimDueRetries(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Empty(t, claimed)

	// second attempt succeeds
	okStatus := 200
	require.NoError(t, store.MarkDelivered(ctx, delivery.DeliveryID, AttemptOutcome{
		ResponseStatus: &okStatus,
		ResponseBody:   "ok",
		LatencyMs:      25,
	}))

	claimed, err = store.ClaimDueRetries(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Empty(t, claimed)
}

func TestDeliveryStorePermanentFailureIsResolvedIntegration(t *testing.T) {
	t.Parallel()

	pool := startPostgres(t)
	ctx := context.Background()

	store, err := NewDeliveryStore(ctx, pool)
	require.NoError(t, err)

	delivery, err := store.CreatePendingDelivery(ctx, CreateDeliveryParams{
		SubscriptionID: uuid.New(),
		Event:          "task.deleted",
		Payload:        json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	status := 404
	require.NoError(t, store.MarkFailed(ctx, delivery.DeliveryID, AttemptOutcome{
		ResponseStatus: &status,
		ResponseBody:   "no such hook",
		LatencyMs:      18,
	}))

	claimed, err := store.ClaimDueRetries(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, claimed)
}

func TestResourceStoreTenantIsolationIntegration(t *testing.T) {
	t.Parallel()

	pool := startPostgres(t)
	ctx := context.Background()

	store, err := NewResourceStore(ctx, pool, "leads")
	require.NoError(t, err)

	tenantA := uuid.New()
	tenantB := uuid.New()

	rowA, err := store.InsertResource(ctx, InsertResourceParams{
		ResourceID: uuid.New(),
		TenantID:   tenantA,
		Payload:    json.RawMessage(`{"name":"Acme Corp","stage":"new"}`),
	})
	require.NoError(t, err)

	_, err = store.InsertResource(ctx, InsertResourceParams{
		ResourceID: uuid.New(),
		TenantID:   tenantB,
		Payload:    json.RawMessage(`{"name":"Globex","stage":"qualified"}`),
	})
	require.NoError(t, err)

	// tenant B cannot see, update, or delete tenant A's row
	_, err = store.GetResource(ctx, tenantB, rowA.ResourceID)
	require.ErrorIs(t, err, ErrResourceNotFound)
	_, err = store.MergeResourcePayload(ctx, tenantB, rowA.ResourceID, json.RawMessage(`{"stage":"won"}`))
	require.ErrorIs(t, err, ErrResourceNotFound)
	require.ErrorIs(t, store.DeleteResource(ctx, tenantB, rowA.ResourceID), ErrResourceNotFound)

	listed, err := store.ListResources(ctx, ListResourcesParams{TenantID: tenantA, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 1, listed.TotalItems)
	require.Len(t, listed.Records, 1)

	stage := "qualified"
	listed, err = store.ListResources(ctx, ListResourcesParams{
		TenantID:    tenantA,
		FilterKey:   "stage",
		FilterValue: &stage,
		Limit:       10,
	})
	require.NoError(t, err)
	require.Equal(t, 0, listed.TotalItems)

	merged, err := store.MergeResourcePayload(ctx, tenantA, rowA.ResourceID, json.RawMessage(`{"stage":"qualified"}`))
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(merged.Payload, &payload))
	require.Equal(t, "Acme Corp", payload["name"])
	require.Equal(t, "qualified", payload["stage"])

	require.NoError(t, store.DeleteResource(ctx, tenantA, rowA.ResourceID))
	_, err = store.GetResource(ctx, tenantA, rowA.ResourceID)
	require.ErrorIs(t, err, ErrResourceNotFound)
}
