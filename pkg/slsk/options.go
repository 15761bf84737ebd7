package slsk

import (
	"time"

	"github.com/BurntSushi/toml"

	"github.com/gosoulseek/slsk/pkg/slsk/metrics"
	"github.com/gosoulseek/slsk/pkg/slsk/types"
)

// ClientOptions configures a Client at construction time.
// DefaultClientOptions() gives the full set of defaults, matching the
// teacher's BaseConfiguration/DefaultConfiguration(name) pattern;
// NewClient also fills in a default for a zero ServerAddress,
// connection limit or dial timeout and for a nil Logger.
type ClientOptions struct {
	ServerAddress string // host:port, default vps.slsknet.org:2271

	// ListenPort is the inbound peer port advertised to the server after
	// login via SetListenPort. Zero means no listener: outbound-only.
	ListenPort int

	ConcurrentMessageConnectionLimit int
	DialTimeout                      time.Duration
	ConnectionWatchdog               time.Duration

	// DistributedNetwork, when true, sends HaveNoParents{true} right
	// after login (spec.md §6). This client never joins the parent pool
	// as a branch root either way (Non-goal).
	DistributedNetwork bool

	Logger  types.Logger
	Metrics *metrics.Metrics
}

// DefaultClientOptions matches the reference client's defaults.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		ServerAddress:                    "vps.slsknet.org:2271",
		ListenPort:                        0,
		ConcurrentMessageConnectionLimit: 32,
		DialTimeout:                       30 * time.Second,
		ConnectionWatchdog:                5 * time.Minute,
	}
}

// rawOptions is the TOML-decodable shape; ClientOptions itself carries
// unmarshalable fields (Logger, Metrics) that a config file can't name.
type rawOptions struct {
	ServerAddress                     string `toml:"server_address"`
	ListenPort                        int    `toml:"listen_port"`
	ConcurrentMessageConnectionLimit int    `toml:"concurrent_message_connection_limit"`
	DialTimeoutSeconds                int    `toml:"dial_timeout_seconds"`
	ConnectionWatchdogSeconds         int    `toml:"connection_watchdog_seconds"`
	DistributedNetwork                bool   `toml:"distributed_network"`
}

// LoadClientOptions decodes a TOML file into ClientOptions, starting
// from DefaultClientOptions() for any field the file omits. Logger and
// Metrics are never set this way; the caller attaches them afterward.
func LoadClientOptions(path string) (ClientOptions, error) {
	opts := DefaultClientOptions()
	var raw rawOptions
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return opts, types.Wrap(types.ProtocolError, err, "decoding client options file")
	}
	if raw.ServerAddress != "" {
		opts.ServerAddress = raw.ServerAddress
	}
	if raw.ListenPort != 0 {
		opts.ListenPort = raw.ListenPort
	}
	if raw.ConcurrentMessageConnectionLimit != 0 {
		opts.ConcurrentMessageConnectionLimit = raw.ConcurrentMessageConnectionLimit
	}
	if raw.DialTimeoutSeconds != 0 {
		opts.DialTimeout = time.Duration(raw.DialTimeoutSeconds) * time.Second
	}
	if raw.ConnectionWatchdogSeconds != 0 {
		opts.ConnectionWatchdog = time.Duration(raw.ConnectionWatchdogSeconds) * time.Second
	}
	opts.DistributedNetwork = raw.DistributedNetwork
	return opts, nil
}
