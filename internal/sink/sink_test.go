package sink

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ultrathink/internal/config"
)

func sampleDoc(id string) map[string]any {
	return map[string]any{
		"request_id":           id,
		"fingerprint":          "abc123",
		"success":              true,
		"confidence":           97.5,
		"iterations_performed": 2,
	}
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	fs, err := NewFileStore(filepath.Join(dir, "logs"))
	require.NoError(t, err)
	ss, err := NewSQLiteStore(filepath.Join(dir, "logs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	return map[string]Store{"file": fs, "sqlite": ss}
}

func TestStore_WriteRead(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Write(ctx, "abc123-1", sampleDoc("r1")))

			doc, err := s.Read(ctx, "abc123-1")
			require.NoError(t, err)
			assert.Equal(t, "r1", doc["request_id"])
			assert.Equal(t, true, doc["success"])
			assert.InDelta(t, 97.5, doc["confidence"], 1e-9)
		})
	}
}

func TestStore_AppendOnly(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Write(ctx, "dup", sampleDoc("r1")))
			err := s.Write(ctx, "dup", sampleDoc("r2"))
			assert.ErrorIs(t, err, ErrExists)

			doc, err := s.Read(ctx, "dup")
			require.NoError(t, err)
			assert.Equal(t, "r1", doc["request_id"])
		})
	}
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Read(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_RejectsUnsafeKeys(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"", "../escape", "a/b", "a b"} {
				assert.ErrorIs(t, s.Write(ctx, key, sampleDoc("x")), ErrInvalidKey, key)
			}
		})
	}
}

func TestStore_Keys(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"b", "a", "c"} {
				require.NoError(t, s.Write(ctx, k, sampleDoc(k)))
			}
			keys, err := s.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b", "c"}, keys)
		})
	}
}

func TestStore_ConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					key := "k" + string(rune('a'+i))
					assert.NoError(t, s.Write(ctx, key, sampleDoc(key)))
				}(i)
			}
			wg.Wait()

			keys, err := s.Keys(ctx)
			require.NoError(t, err)
			assert.Len(t, keys, 16)
		})
	}
}

func TestFileStore_Permissions(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), "perm", sampleDoc("p")))

	info, err := os.Stat(filepath.Join(s.Dir(), "perm.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestSQLiteStore_ByFingerprint(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "fp.db"))
	require.NoError(t, err)
	defer s.Close()

	other := sampleDoc("r3")
	other["fingerprint"] = "zzz"
	require.NoError(t, s.Write(ctx, "abc123-1", sampleDoc("r1")))
	require.NoError(t, s.Write(ctx, "abc123-2", sampleDoc("r2")))
	require.NoError(t, s.Write(ctx, "zzz-1", other))

	keys, err := s.ByFingerprint(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, []string{"abc123-1", "abc123-2"}, keys)
}

func TestNew(t *testing.T) {
	dir := t.TempDir()

	s, err := New(config.SinkConfig{})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = New(config.SinkConfig{Kind: KindFile, Path: filepath.Join(dir, "f")})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = New(config.SinkConfig{Kind: KindSQLite, Path: filepath.Join(dir, "s.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = New(config.SinkConfig{Kind: "s3"})
	assert.Error(t, err)

	_, err = New(config.SinkConfig{Kind: KindFile})
	assert.Error(t, err)
}
