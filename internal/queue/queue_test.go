package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBlockWaitsForSpace(t *testing.T) {
	q := New[int](1, Block)
	ctx := context.Background()
	if err := q.Push(ctx, 1); err != nil {
		t.Fatalf("push: %v", err)
	}

	pushed := make(chan error, 1)
	go func() { pushed <- q.Push(ctx, 2) }()

	select {
	case err := <-pushed:
		t.Fatalf("push returned early on a full queue: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if v, ok := q.Pop(ctx); !ok || v != 1 {
		t.Fatalf("pop = %d,%v; want 1,true", v, ok)
	}
	select {
	case err := <-pushed:
		if err != nil {
			t.Fatalf("push: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("blocked producer was not released")
	}
	if v, _ := q.Pop(ctx); v != 2 {
		t.Fatalf("pop = %d; want 2", v)
	}
}

func TestBlockHonorsContext(t *testing.T) {
	q := New[int](1, Block)
	_ = q.Push(context.Background(), 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Push(ctx, 2); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("push err = %v; want deadline exceeded", err)
	}
}

func TestDropOldest(t *testing.T) {
	var dropped []int
	q := New[int](2, DropOldest, WithDropHandler(func(v int) { dropped = append(dropped, v) }))
	ctx := context.Background()
	for i := 1; i <= 4; i++ {
		if err := q.Push(ctx, i); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	if q.Dropped() != 2 {
		t.Fatalf("dropped = %d; want 2", q.Dropped())
	}
	if len(dropped) != 2 || dropped[0] != 1 || dropped[1] != 2 {
		t.Fatalf("drop handler saw %v; want [1 2]", dropped)
	}
	for _, want := range []int{3, 4} {
		if v, _ := q.Pop(ctx); v != want {
			t.Fatalf("pop = %d; want %d", v, want)
		}
	}
}

func TestClose(t *testing.T) {
	q := New[string](1, Block)
	q.Close()
	q.Close()
	if err := q.Push(context.Background(), "x"); !errors.Is(err, ErrClosed) {
		t.Fatalf("push after close = %v", err)
	}
	if _, ok := q.Pop(context.Background()); ok {
		t.Fatalf("pop after close returned an item")
	}
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"": Block, "block": Block, "dropOldest": DropOldest, "DROP-OLDEST": DropOldest} {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Fatalf("ParsePolicy(%q) = %v,%v; want %v", in, got, err, want)
		}
	}
	if _, err := ParsePolicy("lifo"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}
