package test

import (
	"context"
	"testing"
	"time"

	"pirate-rpc/broker"
	"pirate-rpc/client"
	"pirate-rpc/config"
	"pirate-rpc/connector"
	"pirate-rpc/registry"
)

func setupBrokerAndClient(b *testing.B, preflight bool) *client.Client {
	listing := serve(b, broker.New(broker.Echo, 64), "127.0.0.1:0")
	dir := registry.NewStaticRegistry(map[string][]registry.Listing{"Bench": {listing}})

	cfg := config.Default()
	cfg.FirstAliveLoadBalance = preflight
	cli, err := client.NewClient(cfg, dir)
	if err != nil {
		b.Fatal(err)
	}
	return cli
}

// BenchmarkSend: one fresh socket per call.
func BenchmarkSend(b *testing.B) {
	cli := setupBrokerAndClient(b, false)
	payload := []byte("ping")
	opts := connector.Options{Timeout: time.Second}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := cli.Send(context.Background(), "Bench", payload, opts); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkSendWithPreflight adds the CHECK_AVAILABLE round trip to every call.
func BenchmarkSendWithPreflight(b *testing.B) {
	cli := setupBrokerAndClient(b, true)
	payload := []byte("ping")
	opts := connector.Options{Timeout: time.Second}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := cli.Send(context.Background(), "Bench", payload, opts); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkSendParallel: concurrent callers sharing one client.
func BenchmarkSendParallel(b *testing.B) {
	cli := setupBrokerAndClient(b, false)
	opts := connector.Options{Timeout: time.Second}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		payload := []byte("ping")
		for pb.Next() {
			if _, err := cli.Send(context.Background(), "Bench", payload, opts); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
