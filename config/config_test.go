package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.ClientRetries != 3 {
		t.Errorf("ClientRetries: got %d, want 3", cfg.ClientRetries)
	}
	if cfg.RecvTimeout != 300*time.Second || cfg.SendTimeout != 300*time.Second {
		t.Errorf("request timeouts: got %s/%s, want 300s", cfg.RecvTimeout, cfg.SendTimeout)
	}
	if cfg.CheckAvailableRecvTimeout != 200*time.Millisecond || cfg.CheckAvailableSendTimeout != 200*time.Millisecond {
		t.Errorf("preflight timeouts: got %s/%s, want 200ms", cfg.CheckAvailableRecvTimeout, cfg.CheckAvailableSendTimeout)
	}
	if cfg.ServerLookupAttempts != 5 {
		t.Errorf("ServerLookupAttempts: got %d, want 5", cfg.ServerLookupAttempts)
	}
	if cfg.HostAliveCheckInterval != time.Second {
		t.Errorf("HostAliveCheckInterval: got %s, want 1s", cfg.HostAliveCheckInterval)
	}
	if cfg.FirstAliveLoadBalance {
		t.Error("FirstAliveLoadBalance should default to false")
	}
	if cfg.PingPort != 0 {
		t.Errorf("PingPort: got %d, want disabled", cfg.PingPort)
	}
	if cfg.DefaultHost != "127.0.0.1" || cfg.DefaultPort != 9399 {
		t.Errorf("default server: got %s:%d", cfg.DefaultHost, cfg.DefaultPort)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PB_CLIENT_RETRIES", "7")
	t.Setenv("PB_ZMQ_CLIENT_RCV_TIMEOUT", "1500")
	t.Setenv("PB_ZMQ_CLIENT_SND_TIMEOUT", "2500")
	t.Setenv("PB_ZMQ_CLIENT_CHECK_AVAILABLE_RCV_TIMEOUT", "900")
	t.Setenv("PB_ZMQ_CLIENT_SERVER_LOOKUP_ATTEMPTS", "12")
	t.Setenv("PB_ZMQ_CLIENT_HOST_ALIVE_CHECK_INTERVAL", "4")
	t.Setenv("PB_FIRST_ALIVE_LOAD_BALANCE", "1")
	t.Setenv("PB_RPC_PING_PORT", "9400")
	t.Setenv("PB_RPC_HOST", "10.0.0.9")
	t.Setenv("PB_RPC_PORT", "9500")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ClientRetries != 7 {
		t.Errorf("ClientRetries: got %d", cfg.ClientRetries)
	}
	if cfg.RecvTimeout != 1500*time.Millisecond || cfg.SendTimeout != 2500*time.Millisecond {
		t.Errorf("request timeouts: got %s/%s", cfg.RecvTimeout, cfg.SendTimeout)
	}
	if cfg.CheckAvailableRecvTimeout != 900*time.Millisecond {
		t.Errorf("CheckAvailableRecvTimeout: got %s", cfg.CheckAvailableRecvTimeout)
	}
	if cfg.ServerLookupAttempts != 12 {
		t.Errorf("ServerLookupAttempts: got %d", cfg.ServerLookupAttempts)
	}
	if cfg.HostAliveCheckInterval != 4*time.Second {
		t.Errorf("HostAliveCheckInterval: got %s", cfg.HostAliveCheckInterval)
	}
	if !cfg.FirstAliveLoadBalance {
		t.Error("FirstAliveLoadBalance should be enabled by presence")
	}
	if cfg.PingPort != 9400 {
		t.Errorf("PingPort: got %d", cfg.PingPort)
	}
	if cfg.DefaultHost != "10.0.0.9" || cfg.DefaultPort != 9500 {
		t.Errorf("default server: got %s:%d", cfg.DefaultHost, cfg.DefaultPort)
	}
}

func TestLoadEnforcesFloors(t *testing.T) {
	t.Setenv("PB_CLIENT_RETRIES", "0")
	t.Setenv("PB_ZMQ_CLIENT_CHECK_AVAILABLE_RCV_TIMEOUT", "10")
	t.Setenv("PB_ZMQ_CLIENT_CHECK_AVAILABLE_SND_TIMEOUT", "-5")
	t.Setenv("PB_ZMQ_CLIENT_SERVER_LOOKUP_ATTEMPTS", "2")
	t.Setenv("PB_ZMQ_CLIENT_HOST_ALIVE_CHECK_INTERVAL", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ClientRetries != 1 {
		t.Errorf("ClientRetries floor: got %d", cfg.ClientRetries)
	}
	if cfg.CheckAvailableRecvTimeout != 200*time.Millisecond || cfg.CheckAvailableSendTimeout != 200*time.Millisecond {
		t.Errorf("preflight floor: got %s/%s", cfg.CheckAvailableRecvTimeout, cfg.CheckAvailableSendTimeout)
	}
	if cfg.ServerLookupAttempts != 5 {
		t.Errorf("lookup floor: got %d", cfg.ServerLookupAttempts)
	}
	if cfg.HostAliveCheckInterval != time.Second {
		t.Errorf("interval floor: got %s", cfg.HostAliveCheckInterval)
	}
}

func TestLoadNegativeTimeoutMeansNone(t *testing.T) {
	t.Setenv("PB_ZMQ_CLIENT_RCV_TIMEOUT", "-1")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RecvTimeout >= 0 {
		t.Fatalf("expect a negative (infinite) timeout, got %s", cfg.RecvTimeout)
	}
	if !strings.Contains(cfg.String(), "none") {
		t.Fatal("expect String to render an infinite timeout as none")
	}
}

func TestLoadRejectsBadPingPort(t *testing.T) {
	t.Setenv("PB_RPC_PING_PORT", "70000")
	if _, err := Load(); err == nil {
		t.Fatal("expect an error for an out of range ping port")
	}
}

func TestString(t *testing.T) {
	s := Default().String()
	for _, want := range []string{"REQUESTS", "PREFLIGHT", "SERVER LOOKUP", "127.0.0.1:9399", "disabled"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() missing %q:\n%s", want, s)
		}
	}
}

func TestLoadBalancePolicy(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LoadBalancePolicy != "first-alive" {
		t.Errorf("LoadBalancePolicy: got %q, want first-alive", cfg.LoadBalancePolicy)
	}

	t.Setenv("PB_LOAD_BALANCE_POLICY", "round-robin")
	cfg, err = Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LoadBalancePolicy != "round-robin" {
		t.Errorf("LoadBalancePolicy: got %q, want round-robin", cfg.LoadBalancePolicy)
	}
}
