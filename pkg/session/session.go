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

// Package session defines the per-user session store the authentication
// core reads and writes across request boundaries. The store is the only
// channel ceremony and challenge state crosses requests through; there is
// no in-process long-lived state.
//
// The Context wrapper makes read/consume contracts explicit at call sites:
// Put overwrites, Get reads, Pull reads-and-deletes (single use), Forget
// deletes. Applications back the Store with their cookie- or token-scoped
// session mechanism; the in-memory implementation is for development and
// testing.
package session

import (
	"context"
	"encoding/json"
	"errors"
)

// Sentinel errors for session operations.
var (
	// ErrKeyNotFound is returned when a key does not exist or has expired.
	ErrKeyNotFound = errors.New("session key not found")
)

// Store is a namespaced key-value store scoped to a single end-user
// session. Values persist across requests but never across sessions.
type Store interface {
	// Put stores a value, overwriting any prior value under the key.
	Put(ctx context.Context, key string, value []byte) error

	// Get retrieves a value. Returns ErrKeyNotFound if absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Pull retrieves a value and deletes it in the same operation.
	// A second Pull for the same key fails with ErrKeyNotFound.
	Pull(ctx context.Context, key string) ([]byte, error)

	// Forget deletes a value. Deleting an absent key is not an error.
	Forget(ctx context.Context, key string) error
}

// Context wraps a Store with a key namespace so independent subsystems
// (WebAuthn challenges, MFA state, sudo state) cannot collide.
type Context struct {
	store  Store
	prefix string
}

// NewContext creates a session context over the given store. All keys are
// prefixed with namespace followed by a dot.
func NewContext(store Store, namespace string) *Context {
	prefix := ""
	if namespace != "" {
		prefix = namespace + "."
	}
	return &Context{store: store, prefix: prefix}
}

// Key returns the fully namespaced form of key.
func (c *Context) Key(key string) string {
	return c.prefix + key
}

// Put stores a raw value under the namespaced key.
func (c *Context) Put(ctx context.Context, key string, value []byte) error {
	return c.store.Put(ctx, c.Key(key), value)
}

// Get retrieves a raw value.
func (c *Context) Get(ctx context.Context, key string) ([]byte, error) {
	return c.store.Get(ctx, c.Key(key))
}

// Pull retrieves a raw value and deletes it.
func (c *Context) Pull(ctx context.Context, key string) ([]byte, error) {
	return c.store.Pull(ctx, c.Key(key))
}

// Forget deletes a value.
func (c *Context) Forget(ctx context.Context, key string) error {
	return c.store.Forget(ctx, c.Key(key))
}

// PutJSON marshals v and stores it under the namespaced key.
func (c *Context) PutJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Put(ctx, key, data)
}

// GetJSON retrieves a value and unmarshals it into v.
func (c *Context) GetJSON(ctx context.Context, key string, v any) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// PullJSON retrieves a value, deletes it, and unmarshals it into v.
func (c *Context) PullJSON(ctx context.Context, key string, v any) error {
	data, err := c.Pull(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
