package webhook

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

func TestMemRegistryCRUD(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := NewMemRegistry()

	created, err := reg.Create(ctx, Webhook{URL: "https://example.com/hook", EventType: "import.completed", Enabled: true})
	require.NoError(t, err)
	require.NotZero(t, created.ID)
	require.Nil(t, created.LastResponseCode)

	got, err := reg.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "https://example.com/hook", got.URL)

	updated, err := reg.Update(ctx, created.ID, Update{Enabled: boolPtr(false), URL: strPtr("https://example.com/v2")})
	require.NoError(t, err)
	require.False(t, updated.Enabled)
	require.Equal(t, "https://example.com/v2", updated.URL)
	require.Equal(t, "import.completed", updated.EventType)

	require.NoError(t, reg.Delete(ctx, created.ID))
	_, err = reg.Get(ctx, created.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, reg.Delete(ctx, created.ID), ErrNotFound)
}

func TestMemRegistryListByEvent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := NewMemRegistry()

	_, err := reg.Create(ctx, Webhook{URL: "https://a.test", EventType: "import.completed", Enabled: true})
	require.NoError(t, err)
	_, err = reg.Create(ctx, Webhook{URL: "https://b.test", EventType: "import.completed", Enabled: false})
	require.NoError(t, err)
	_, err = reg.Create(ctx, Webhook{URL: "https://c.test", EventType: "product.created", Enabled: true})
	require.NoError(t, err)

	hooks, err := reg.ListByEvent(ctx, "import.completed")
	require.NoError(t, err)
	require.Len(t, hooks, 1)
	require.Equal(t, "https://a.test", hooks[0].URL)

	all, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestMemRegistryRecordResult(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := NewMemRegistry()
	created, err := reg.Create(ctx, Webhook{URL: "https://a.test", EventType: "import.completed", Enabled: true})
	require.NoError(t, err)

	require.NoError(t, reg.RecordResult(ctx, created.ID, 200, 42))
	got, err := reg.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, 200, *got.LastResponseCode)
	require.Equal(t, int64(42), *got.LastResponseTimeMs)

	require.ErrorIs(t, reg.RecordResult(ctx, 9999, 200, 1), ErrNotFound)
}
