package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCheckAllAggregates(t *testing.T) {
	reg := NewRegistry(0)
	reg.Register("database", func(ctx context.Context) error { return nil })
	reg.Register("reserve", func(ctx context.Context) error { return errors.New("wedged") })

	healthy, statuses := reg.CheckAll(context.Background())
	if healthy {
		t.Error("aggregate should be unhealthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("got %d statuses, want 2", len(statuses))
	}
	if statuses[0].Name != "database" || !statuses[0].Healthy {
		t.Errorf("status 0 = %+v", statuses[0])
	}
	if statuses[1].Name != "reserve" || statuses[1].Healthy || statuses[1].Detail != "wedged" {
		t.Errorf("status 1 = %+v", statuses[1])
	}
}

func TestCheckAllEmpty(t *testing.T) {
	healthy, statuses := NewRegistry(0).CheckAll(context.Background())
	if !healthy {
		t.Error("no checks should mean healthy")
	}
	if len(statuses) != 0 {
		t.Errorf("got %d statuses, want 0", len(statuses))
	}
}

func TestCheckTimeout(t *testing.T) {
	reg := NewRegistry(10 * time.Millisecond)
	reg.Register("slow", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	start := time.Now()
	healthy, statuses := reg.CheckAll(context.Background())
	if healthy {
		t.Error("slow check should time out")
	}
	if statuses[0].Healthy || statuses[0].Detail == "" {
		t.Errorf("status = %+v", statuses[0])
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("check did not respect the per-check deadline")
	}
}
