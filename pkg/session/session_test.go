// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-stepup.
//
// go-stepup is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PutGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, "key", []byte("value")))

	got, err := store.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)

	// Put overwrites
	require.NoError(t, store.Put(ctx, "key", []byte("other")))
	got, err = store.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("other"), got)
}

func TestMemoryStore_GetMissing(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemoryStore_PullIsSingleUse(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, "challenge", []byte("nonce")))

	got, err := store.Pull(ctx, "challenge")
	require.NoError(t, err)
	assert.Equal(t, []byte("nonce"), got)

	// Second pull must fail; the value is consumed.
	_, err = store.Pull(ctx, "challenge")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	_, err = store.Get(ctx, "challenge")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemoryStore_Forget(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, "key", []byte("value")))
	require.NoError(t, store.Forget(ctx, "key"))

	_, err := store.Get(ctx, "key")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	// Forgetting an absent key is not an error.
	require.NoError(t, store.Forget(ctx, "key"))
}

func TestMemoryStore_TTL(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStoreWithTTL(10 * time.Millisecond)

	require.NoError(t, store.Put(ctx, "key", []byte("value")))
	time.Sleep(20 * time.Millisecond)

	_, err := store.Get(ctx, "key")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	_, err = store.Pull(ctx, "key")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemoryStore_Cleanup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStoreWithTTL(10 * time.Millisecond)

	require.NoError(t, store.Put(ctx, "a", []byte("1")))
	require.NoError(t, store.Put(ctx, "b", []byte("2")))
	time.Sleep(20 * time.Millisecond)

	removed := store.Cleanup()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, store.Count())
}

func TestContext_Namespacing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	mfa := NewContext(store, "mfa")
	sudo := NewContext(store, "sudo")

	require.NoError(t, mfa.Put(ctx, "state", []byte("mfa-state")))
	require.NoError(t, sudo.Put(ctx, "state", []byte("sudo-state")))

	got, err := mfa.Get(ctx, "state")
	require.NoError(t, err)
	assert.Equal(t, []byte("mfa-state"), got)

	got, err = sudo.Get(ctx, "state")
	require.NoError(t, err)
	assert.Equal(t, []byte("sudo-state"), got)

	assert.Equal(t, "mfa.state", mfa.Key("state"))
}

func TestContext_JSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	sess := NewContext(NewMemoryStore(), "test")

	type payload struct {
		UserID string `json:"user_id"`
		Count  int    `json:"count"`
	}

	require.NoError(t, sess.PutJSON(ctx, "payload", payload{UserID: "abc", Count: 3}))

	var got payload
	require.NoError(t, sess.GetJSON(ctx, "payload", &got))
	assert.Equal(t, payload{UserID: "abc", Count: 3}, got)

	require.NoError(t, sess.PullJSON(ctx, "payload", &got))
	assert.ErrorIs(t, sess.GetJSON(ctx, "payload", &got), ErrKeyNotFound)
}
