package credstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexwire/chatgate/internal/model"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	creds, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, creds, "absent credential loads as nil, nil")

	require.NoError(t, s.Save(ctx, &model.Credentials{TenantID: "t1", Blob: []byte("token")}))

	creds, err = s.Load(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, creds)
	assert.Equal(t, []byte("token"), creds.Blob)

	require.NoError(t, s.Delete(ctx, "t1"))
	creds, err = s.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, creds)
}

func TestMemoryStore_LoadReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, &model.Credentials{TenantID: "t1", Blob: []byte("token")}))

	a, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	a.TenantID = "mutated"

	b, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", b.TenantID)
}

func TestMemoryStore_DeleteUnknownIsNoop(t *testing.T) {
	s := NewMemoryStore()
	assert.NoError(t, s.Delete(context.Background(), "ghost"))
}
