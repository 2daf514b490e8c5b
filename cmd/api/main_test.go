package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/medchat/backend/internal/config"
	"github.com/zhouzirui/medchat/backend/internal/service/chat"
)

func TestOpenStoreBackends(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name string
		cfg  config.StoreConfig
		want any
	}{
		{"memory", config.StoreConfig{Backend: config.StoreMemory}, &chat.MemoryStore{}},
		{"sqlite", config.StoreConfig{Backend: config.StoreSQLite, SQLitePath: filepath.Join(t.TempDir(), "nested", "chat.db")}, &chat.SQLiteStore{}},
		{"redis", config.StoreConfig{Backend: config.StoreRedis, RedisAddr: mr.Addr()}, &chat.RedisStore{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, closeStore, err := openStore(context.Background(), tt.cfg)
			require.NoError(t, err)
			t.Cleanup(func() { assert.NoError(t, closeStore()) })
			assert.IsType(t, tt.want, store)

			conv, err := store.CreateConversation(context.Background())
			require.NoError(t, err)
			assert.Len(t, conv.Messages, 1)
		})
	}
}

func TestOpenStoreRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, _, err := openStore(context.Background(), config.StoreConfig{Backend: config.StoreRedis, RedisAddr: addr})
	assert.Error(t, err)
}

func TestPolicyConfigPath(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf)

	assert.Empty(t, policyConfigPath(config.PolicyConfig{}, l))
	assert.Empty(t, buf.String())

	missingCreds := config.PolicyConfig{ConfigPath: "configs/policy/rails.yaml", Model: "ep-123"}
	assert.Empty(t, policyConfigPath(missingCreds, l))
	assert.Contains(t, buf.String(), "skipping policy engine")

	ready := config.PolicyConfig{ConfigPath: "configs/policy/rails.yaml", Model: "ep-123", APIKey: "ark-key"}
	assert.Equal(t, "configs/policy/rails.yaml", policyConfigPath(ready, l))
}
