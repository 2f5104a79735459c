package main

import (
	"testing"

	"pirate-rpc/registry"
)

func TestAdvertisedListing(t *testing.T) {
	tests := []struct {
		listen, advertise string
		want              registry.Listing
		wantErr           bool
	}{
		{listen: "127.0.0.1:9399", want: registry.Listing{Address: "127.0.0.1", Port: 9399}},
		{listen: ":9399", advertise: "10.0.0.5:9399", want: registry.Listing{Address: "10.0.0.5", Port: 9399}},
		{listen: ":9399", wantErr: true},
		{listen: "127.0.0.1:http", wantErr: true},
	}
	for _, tt := range tests {
		brokerListen, brokerAdvertise = tt.listen, tt.advertise
		got, err := advertisedListing()
		if tt.wantErr {
			if err == nil {
				t.Errorf("listen=%q advertise=%q: expect an error", tt.listen, tt.advertise)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("listen=%q advertise=%q: got %v, %v; want %v", tt.listen, tt.advertise, got, err, tt.want)
		}
	}
}

func TestReadPayloadFromArgs(t *testing.T) {
	payload, err := readPayload([]string{"Echo", "ping"})
	if err != nil || string(payload) != "ping" {
		t.Fatalf("got %q, %v", payload, err)
	}
}

func TestOpenDirectory(t *testing.T) {
	directory = "static"
	listingsFile = ""
	reg, closeDir, err := openDirectory(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	defer closeDir()
	if _, ok := reg.(*registry.StaticRegistry); !ok {
		t.Fatalf("expect a static registry, got %T", reg)
	}

	directory = "zookeeper"
	if _, _, err := openDirectory(t.Context()); err == nil {
		t.Fatal("expect an error for an unknown directory")
	}
	directory = "static"
}
