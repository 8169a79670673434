package flowkit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNewNodeWithAllFuncs(t *testing.T) {
	node := NewNode(
		WithName("all"),
		WithPrepFunc(func(ctx context.Context, shared *SharedStore) (any, error) {
			return shared.GetInt("n"), nil
		}),
		WithExecFunc(func(ctx context.Context, prep any) (any, error) {
			return prep.(int) * 10, nil
		}),
		WithPostFunc(func(ctx context.Context, shared *SharedStore, prep, res any) (Action, error) {
			shared.Set("n", res)
			return "stored", nil
		}),
	)

	shared := NewSharedStoreFrom(map[string]any{"n": 4})
	action, err := Run(context.Background(), node, shared)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if action != "stored" || shared.GetInt("n") != 40 {
		t.Errorf("unexpected outcome: action=%q n=%d", action, shared.GetInt("n"))
	}
}

func TestNewNodeWithNoFunctions(t *testing.T) {
	action, err := Run(context.Background(), NewNode(), NewSharedStore())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if action != DefaultAction {
		t.Errorf("expected %q, got %q", DefaultAction, action)
	}
}

func TestNewNodeWithBaseNodeOptions(t *testing.T) {
	node := NewNode(
		WithExecFunc(func(ctx context.Context, _ any) (any, error) { return nil, nil }),
		WithMaxRetries(4),
		WithWait(time.Second),
		"ignored",
	)
	if node.GetMaxRetries() != 4 || node.GetWait() != time.Second {
		t.Errorf("options not applied: retries=%d wait=%s", node.GetMaxRetries(), node.GetWait())
	}
}

func TestNewNodeConcurrentExecution(t *testing.T) {
	node := NewNode(
		WithPrepFunc(func(ctx context.Context, shared *SharedStore) (any, error) {
			return shared.GetInt("id"), nil
		}),
		WithExecFunc(func(ctx context.Context, prep any) (any, error) {
			time.Sleep(5 * time.Millisecond)
			return prep.(int) + 1, nil
		}),
		WithPostFunc(func(ctx context.Context, shared *SharedStore, _, res any) (Action, error) {
			shared.Set("out", res)
			return DefaultAction, nil
		}),
	)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			shared := NewSharedStoreFrom(map[string]any{"id": id})
			if _, err := Run(context.Background(), node, shared); err != nil {
				errs <- err
				return
			}
			if got := shared.GetInt("out"); got != id+1 {
				errs <- errors.New("result leaked between runs")
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
