package slsk

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gosoulseek/slsk/pkg/slsk/types"
)

func Test_DefaultClientOptions(t *testing.T) {
	opts := DefaultClientOptions()
	if opts.ServerAddress != "vps.slsknet.org:2271" {
		t.Errorf("got %q", opts.ServerAddress)
	}
	if opts.ListenPort != 0 {
		t.Errorf("got %d, want 0 (outbound-only by default)", opts.ListenPort)
	}
	if opts.ConcurrentMessageConnectionLimit != 32 {
		t.Errorf("got %d, want 32", opts.ConcurrentMessageConnectionLimit)
	}
	if opts.DialTimeout != 30*time.Second {
		t.Errorf("got %v, want 30s", opts.DialTimeout)
	}
	if opts.ConnectionWatchdog != 5*time.Minute {
		t.Errorf("got %v, want 5m", opts.ConnectionWatchdog)
	}
	if opts.DistributedNetwork {
		t.Error("DistributedNetwork should default to false")
	}
}

func Test_LoadClientOptions_OverridesOnlyNamedFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
server_address = "example.org:2234"
listen_port = 2234
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	opts, err := LoadClientOptions(path)
	if err != nil {
		t.Fatalf("LoadClientOptions: %v", err)
	}
	if opts.ServerAddress != "example.org:2234" {
		t.Errorf("got %q", opts.ServerAddress)
	}
	if opts.ListenPort != 2234 {
		t.Errorf("got %d", opts.ListenPort)
	}
	// everything left unnamed in the file keeps its default.
	if opts.ConcurrentMessageConnectionLimit != 32 {
		t.Errorf("got %d, want default 32", opts.ConcurrentMessageConnectionLimit)
	}
	if opts.DialTimeout != 30*time.Second {
		t.Errorf("got %v, want default 30s", opts.DialTimeout)
	}
}

func Test_LoadClientOptions_SecondsConvertedToDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
dial_timeout_seconds = 5
connection_watchdog_seconds = 120
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	opts, err := LoadClientOptions(path)
	if err != nil {
		t.Fatalf("LoadClientOptions: %v", err)
	}
	if opts.DialTimeout != 5*time.Second {
		t.Errorf("got %v, want 5s", opts.DialTimeout)
	}
	if opts.ConnectionWatchdog != 120*time.Second {
		t.Errorf("got %v, want 120s", opts.ConnectionWatchdog)
	}
}

func Test_LoadClientOptions_MissingFileReturnsProtocolError(t *testing.T) {
	_, err := LoadClientOptions(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
	kind, ok := types.KindOf(err)
	if !ok || kind != types.ProtocolError {
		t.Errorf("got kind=%v ok=%v, want ProtocolError,true", kind, ok)
	}
}
