// Package config loads the client transport settings from PB_* environment variables.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults and floors. A floor is applied after reading the environment, so a smaller
// configured value is raised to it.
const (
	DefaultClientRetries          = 3
	DefaultRequestTimeout         = 300 * time.Second
	MinCheckAvailableTimeout      = 200 * time.Millisecond
	MinServerLookupAttempts       = 5
	MinHostAliveCheckInterval     = time.Second
	DefaultPingTimeout            = time.Second
	DefaultHost                   = "127.0.0.1"
	DefaultPort                   = 9399
	defaultCheckAvailableTimeouts = MinCheckAvailableTimeout
)

// env keys, without the PB_ prefix
const (
	keyClientRetries          = "client_retries"
	keyRecvTimeout            = "zmq_client_rcv_timeout"
	keySendTimeout            = "zmq_client_snd_timeout"
	keyCheckAvailableRecv     = "zmq_client_check_available_rcv_timeout"
	keyCheckAvailableSend     = "zmq_client_check_available_snd_timeout"
	keyServerLookupAttempts   = "zmq_client_server_lookup_attempts"
	keyHostAliveCheckInterval = "zmq_client_host_alive_check_interval"
	keyFirstAliveLoadBalance  = "first_alive_load_balance"
	keyPingPort               = "rpc_ping_port"
	keyPingTimeout            = "rpc_ping_timeout"
	keyHost                   = "rpc_host"
	keyPort                   = "rpc_port"
	keyRateLimit              = "client_rate_limit"
	keyRateBurst              = "client_rate_burst"
	keyLoadBalancePolicy      = "load_balance_policy"
)

// Config holds every tunable of the client transport.
type Config struct {
	// ClientRetries is the number of request attempts per call (at least 1).
	ClientRetries int

	// Timeouts for the real request. A per-call timeout overrides both.
	RecvTimeout time.Duration
	SendTimeout time.Duration

	// Timeouts for the CHECK_AVAILABLE handshake.
	CheckAvailableRecvTimeout time.Duration
	CheckAvailableSendTimeout time.Duration

	// ServerLookupAttempts is the number of passes the resolver makes over all candidates.
	ServerLookupAttempts int

	// HostAliveCheckInterval is how long a cached liveness result stays valid.
	HostAliveCheckInterval time.Duration

	// FirstAliveLoadBalance enables the CHECK_AVAILABLE preflight.
	FirstAliveLoadBalance bool

	// PingPort is probed for liveness; 0 disables liveness checks.
	PingPort    int
	PingTimeout time.Duration

	// DefaultHost/DefaultPort are used when neither the directory nor the call names a server.
	DefaultHost string
	DefaultPort int

	// LoadBalancePolicy names the order listings are tried in (first-alive, round-robin, random).
	LoadBalancePolicy string

	// RateLimit (calls/second) and RateBurst throttle calls client-side; 0 disables.
	RateLimit float64
	RateBurst int
}

// Default returns the configuration used when no environment variable is set.
func Default() *Config {
	return &Config{
		ClientRetries:             DefaultClientRetries,
		RecvTimeout:               DefaultRequestTimeout,
		SendTimeout:               DefaultRequestTimeout,
		CheckAvailableRecvTimeout: defaultCheckAvailableTimeouts,
		CheckAvailableSendTimeout: defaultCheckAvailableTimeouts,
		ServerLookupAttempts:      MinServerLookupAttempts,
		HostAliveCheckInterval:    MinHostAliveCheckInterval,
		PingTimeout:               DefaultPingTimeout,
		DefaultHost:               DefaultHost,
		DefaultPort:               DefaultPort,
		LoadBalancePolicy:         "first-alive",
	}
}

// Load reads PB_* environment variables on top of Default.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("pb")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault(keyClientRetries, d.ClientRetries)
	v.SetDefault(keyRecvTimeout, d.RecvTimeout.Milliseconds())
	v.SetDefault(keySendTimeout, d.SendTimeout.Milliseconds())
	v.SetDefault(keyCheckAvailableRecv, 0)
	v.SetDefault(keyCheckAvailableSend, 0)
	v.SetDefault(keyServerLookupAttempts, 0)
	v.SetDefault(keyHostAliveCheckInterval, 0)
	v.SetDefault(keyPingTimeout, d.PingTimeout.Milliseconds())
	v.SetDefault(keyHost, d.DefaultHost)
	v.SetDefault(keyPort, d.DefaultPort)
	v.SetDefault(keyRateLimit, 0)
	v.SetDefault(keyRateBurst, 1)
	v.SetDefault(keyLoadBalancePolicy, d.LoadBalancePolicy)

	cfg := &Config{
		ClientRetries:             max(v.GetInt(keyClientRetries), 1),
		RecvTimeout:               millis(v.GetInt(keyRecvTimeout)),
		SendTimeout:               millis(v.GetInt(keySendTimeout)),
		CheckAvailableRecvTimeout: max(millis(v.GetInt(keyCheckAvailableRecv)), MinCheckAvailableTimeout),
		CheckAvailableSendTimeout: max(millis(v.GetInt(keyCheckAvailableSend)), MinCheckAvailableTimeout),
		ServerLookupAttempts:      max(v.GetInt(keyServerLookupAttempts), MinServerLookupAttempts),
		HostAliveCheckInterval:    max(time.Duration(v.GetInt(keyHostAliveCheckInterval))*time.Second, MinHostAliveCheckInterval),
		FirstAliveLoadBalance:     v.IsSet(keyFirstAliveLoadBalance),
		PingTimeout:               millis(v.GetInt(keyPingTimeout)),
		DefaultHost:               v.GetString(keyHost),
		DefaultPort:               v.GetInt(keyPort),
		RateLimit:                 v.GetFloat64(keyRateLimit),
		RateBurst:                 max(v.GetInt(keyRateBurst), 1),
		LoadBalancePolicy:         v.GetString(keyLoadBalancePolicy),
	}

	if v.IsSet(keyPingPort) {
		port := v.GetInt(keyPingPort)
		if port <= 0 || port > 65535 {
			return nil, fmt.Errorf("config: invalid PB_RPC_PING_PORT %q", v.GetString(keyPingPort))
		}
		cfg.PingPort = port
	}
	if cfg.DefaultPort <= 0 || cfg.DefaultPort > 65535 {
		return nil, fmt.Errorf("config: invalid PB_RPC_PORT %d", cfg.DefaultPort)
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = DefaultPingTimeout
	}
	return cfg, nil
}

// millis converts a millisecond setting; negative values mean "no timeout".
func millis(ms int) time.Duration {
	if ms < 0 {
		return -1
	}
	return time.Duration(ms) * time.Millisecond
}

// String returns a formatted string representation of the configuration
func (c *Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-26s: %s\n", name, value))
	}

	addSection("Requests")
	addField("Retries", strconv.Itoa(c.ClientRetries))
	addField("Receive Timeout", formatTimeout(c.RecvTimeout))
	addField("Send Timeout", formatTimeout(c.SendTimeout))

	addSection("Preflight")
	addField("First Alive Load Balance", strconv.FormatBool(c.FirstAliveLoadBalance))
	addField("Check Receive Timeout", formatTimeout(c.CheckAvailableRecvTimeout))
	addField("Check Send Timeout", formatTimeout(c.CheckAvailableSendTimeout))

	addSection("Server Lookup")
	addField("Lookup Attempts", strconv.Itoa(c.ServerLookupAttempts))
	addField("Default Server", fmt.Sprintf("%s:%d", c.DefaultHost, c.DefaultPort))
	addField("Load Balance Policy", c.LoadBalancePolicy)
	if c.PingPort > 0 {
		addField("Ping Port", strconv.Itoa(c.PingPort))
		addField("Ping Timeout", c.PingTimeout.String())
		addField("Alive Check Interval", c.HostAliveCheckInterval.String())
	} else {
		addField("Ping Port", "disabled")
	}

	if c.RateLimit > 0 {
		addSection("Rate Limit")
		addField("Calls Per Second", strconv.FormatFloat(c.RateLimit, 'f', -1, 64))
		addField("Burst", strconv.Itoa(c.RateBurst))
	}
	return sb.String()
}

func formatTimeout(d time.Duration) string {
	if d < 0 {
		return "none"
	}
	return d.String()
}
