package registry

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestRedisRegisterAndList(t *testing.T) {
	url := os.Getenv("PIRATE_REDIS_URL")
	if url == "" {
		t.Skip("PIRATE_REDIS_URL not set")
	}
	ctx := context.Background()
	reg, err := NewRedisRegistry(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	service := "Echo-" + time.Now().Format("150405.000000")
	live := Listing{Address: "127.0.0.1", Port: 9399}
	expired := Listing{Address: "127.0.0.1", Port: 9400}

	if err := reg.Register(ctx, service, live, 0); err != nil {
		t.Fatal(err)
	}
	// registered an hour ago with a one second ttl
	now := reg.now
	reg.now = func() time.Time { return time.Now().Add(-time.Hour) }
	if err := reg.Register(ctx, service, expired, 1); err != nil {
		t.Fatal(err)
	}
	reg.now = now

	listings, err := reg.AllListingsFor(ctx, service)
	if err != nil {
		t.Fatal(err)
	}
	if len(listings) != 1 || listings[0] != live {
		t.Fatalf("expect only the unexpired listing, got %v", listings)
	}
	if n := reg.rdb.ZCard(ctx, redisKey(service)).Val(); n != 1 {
		t.Fatalf("expect the expired member to be pruned, set holds %d members", n)
	}

	reg.Deregister(ctx, service, live)
	reg.Deregister(ctx, service, expired)
	listings, _ = reg.AllListingsFor(ctx, service)
	if len(listings) != 0 {
		t.Fatalf("expect no listings after deregister, got %v", listings)
	}
}
