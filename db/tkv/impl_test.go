package tkv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"testing"
)

type testTKV struct {
	tkv TKV
	dir string
}

func (t *testTKV) Cleanup() error {
	if err := t.tkv.Close(); err != nil {
		return err
	}
	return os.RemoveAll(t.dir)
}

func createTestTKV(ctx context.Context) (*testTKV, error) {
	dir, err := os.MkdirTemp(os.TempDir(), "tkv_test_*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir for test: %w", err)
	}

	tkv, err := New(Config{
		Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelError,
		})),
		Directory: dir,
		AppCtx:    ctx,
	})
	if err != nil {
		return nil, err
	}
	return &testTKV{
		tkv: tkv,
		dir: dir, // so we can clean up after
	}, nil
}

// -------------------------- TESTS

func TestTKV_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	tkvTest, err := createTestTKV(ctx)
	if err != nil {
		t.Fatalf("Failed to create test TKV: %v", err)
	}
	defer tkvTest.Cleanup()

	t.Run("Set and Get basic value", func(t *testing.T) {
		key := "testKey1"
		value := "testValue1"
		if err := tkvTest.tkv.Set(key, value); err != nil {
			t.Errorf("Set() error = %v, wantErr nil", err)
		}

		retrievedVal, err := tkvTest.tkv.Get(key)
		if err != nil {
			t.Errorf("Get() error = %v, wantErr nil", err)
		}
		if retrievedVal != value {
			t.Errorf("Get() got = %v, want %v", retrievedVal, value)
		}
	})

	t.Run("Get non-existent key", func(t *testing.T) {
		key := "nonExistentKey"
		_, err := tkvTest.tkv.Get(key)
		if err == nil {
			t.Errorf("Get() expected error for non-existent key, got nil")
		}
		var keyNotFound *ErrKeyNotFound
		if !errors.As(err, &keyNotFound) {
			t.Errorf("Get() expected ErrKeyNotFound, got %T", err)
		}
		if keyNotFound.Key != key {
			t.Errorf("ErrKeyNotFound.Key got = %s, want %s", keyNotFound.Key, key)
		}
		if !IsErrKeyNotFound(err) {
			t.Errorf("IsErrKeyNotFound() got = false, want true")
		}
	})

	t.Run("Delete existing key", func(t *testing.T) {
		key := "toBeDeletedKey"
		value := "toBeDeletedValue"
		if err := tkvTest.tkv.Set(key, value); err != nil {
			t.Fatalf("Setup: Set() error = %v", err)
		}

		if err := tkvTest.tkv.Delete(key); err != nil {
			t.Errorf("Delete() error = %v, wantErr nil", err)
		}

		_, err := tkvTest.tkv.Get(key)
		if !errors.As(err, new(*ErrKeyNotFound)) {
			t.Errorf("Get() after Delete expected ErrKeyNotFound, got %v", err)
		}
	})

	t.Run("Delete non-existent key", func(t *testing.T) {
		if err := tkvTest.tkv.Delete("nonExistentKeyForDelete"); err != nil {
			t.Errorf("Delete() of non-existent key error = %v, wantErr nil", err)
		}
	})

	t.Run("Overwrite existing key", func(t *testing.T) {
		key := "overwriteKey"
		if err := tkvTest.tkv.Set(key, "first"); err != nil {
			t.Fatalf("Setup: Set() error = %v", err)
		}
		if err := tkvTest.tkv.Set(key, "second"); err != nil {
			t.Errorf("Set() overwrite error = %v, wantErr nil", err)
		}
		got, err := tkvTest.tkv.Get(key)
		if err != nil {
			t.Errorf("Get() error = %v, wantErr nil", err)
		}
		if got != "second" {
			t.Errorf("Get() got = %v, want second", got)
		}
	})
}

func TestTKV_Iterate(t *testing.T) {
	ctx := context.Background()
	tkvTest, err := createTestTKV(ctx)
	if err != nil {
		t.Fatalf("Failed to create test TKV: %v", err)
	}
	defer tkvTest.Cleanup()

	keys := []string{"prefix_key1", "prefix_key2", "prefix_key3", "other_key1"}
	for _, key := range keys {
		if err := tkvTest.tkv.Set(key, "value"); err != nil {
			t.Fatalf("Setup: Set() error for key %s: %v", key, err)
		}
	}

	t.Run("Iterate with prefix", func(t *testing.T) {
		got, err := tkvTest.tkv.Iterate("prefix_", 0, 0)
		if err != nil {
			t.Errorf("Iterate() error = %v, wantErr nil", err)
		}
		want := []string{"prefix_key1", "prefix_key2", "prefix_key3"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Iterate() got = %v, want %v", got, want)
		}
	})

	t.Run("Iterate with offset and limit", func(t *testing.T) {
		got, err := tkvTest.tkv.Iterate("prefix_", 1, 1)
		if err != nil {
			t.Errorf("Iterate() error = %v, wantErr nil", err)
		}
		want := []string{"prefix_key2"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Iterate() got = %v, want %v", got, want)
		}
	})

	t.Run("Iterate with no matches", func(t *testing.T) {
		got, err := tkvTest.tkv.Iterate("missing_", 0, 0)
		if err != nil {
			t.Errorf("Iterate() error = %v, wantErr nil", err)
		}
		if len(got) != 0 {
			t.Errorf("Iterate() got = %v, want empty", got)
		}
	})
}
