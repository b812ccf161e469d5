package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDocLockTimeout(t *testing.T) {
	locks := newDocLocks()
	ctx := context.Background()
	release, err := locks.acquire(ctx, "doc-1", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := locks.acquire(ctx, "doc-1", 20*time.Millisecond); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("want ErrLockTimeout, got %v", err)
	}
	release()
	release2, err := locks.acquire(ctx, "doc-1", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	release2()
}

func TestDocLockIndependentDocuments(t *testing.T) {
	locks := newDocLocks()
	ctx := context.Background()
	r1, err := locks.acquire(ctx, "doc-1", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire doc-1: %v", err)
	}
	defer r1()
	r2, err := locks.acquire(ctx, "doc-2", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("doc-2 must not wait on doc-1: %v", err)
	}
	r2()
}

func TestDocLockContextCancel(t *testing.T) {
	locks := newDocLocks()
	release, err := locks.acquire(context.Background(), "doc-1", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := locks.acquire(ctx, "doc-1", time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
