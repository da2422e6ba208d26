// Package config binds the daemon's own tunables -- not the kernel's -- to
// environment variables. There is no command-line surface, so this package
// only reads env vars.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the fully-resolved set of daemon tunables for one process
// lifetime. It is immutable once Load returns.
type Config struct {
	// NetnsEnabled disables per-namespace writes when false; all writes
	// become global even for namespaced tunables.
	NetnsEnabled bool

	// RescanInterval is how often the tuner host lists the plugin
	// directory for added/removed artifacts.
	RescanInterval time.Duration

	// CorrThreshold is the Pearson coefficient above which a tuner must
	// downgrade an INCREASE scenario to avoid fighting a latency trend.
	CorrThreshold float64

	// DedupWindow is the per-key suppression window for the event ring
	// consumer's dedup filter.
	DedupWindow time.Duration

	// PluginDir is the filesystem directory the tuner host scans for
	// loadable tuner artifacts.
	PluginDir string

	// MetricsAddr, if non-empty, is the listen address for the
	// Prometheus /metrics endpoint.
	MetricsAddr string

	// RingMapPin is the pinned bpf map path the ring buffer reader opens.
	// Populating the pin is a separate kernel probe loader's responsibility;
	// the daemon only needs the path.
	RingMapPin string
}

// Load reads BPFTUNE_* environment variables, applying defaults for any
// that are unset.
func Load() Config {
	v := viper.New()
	v.SetEnvPrefix("bpftune")
	v.AutomaticEnv()

	v.SetDefault("netns", true)
	v.SetDefault("rescan_ms", 5000)
	v.SetDefault("corr_threshold", 0.5)
	v.SetDefault("dedup_window_ms", 25)
	v.SetDefault("plugin_dir", "/usr/local/lib64/bpftune/")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("ring_map_pin", "/sys/fs/bpf/bpftune/events")

	return Config{
		NetnsEnabled:   v.GetBool("netns"),
		RescanInterval: time.Duration(v.GetInt("rescan_ms")) * time.Millisecond,
		CorrThreshold:  v.GetFloat64("corr_threshold"),
		DedupWindow:    time.Duration(v.GetInt("dedup_window_ms")) * time.Millisecond,
		PluginDir:      v.GetString("plugin_dir"),
		MetricsAddr:    v.GetString("metrics_addr"),
		RingMapPin:     v.GetString("ring_map_pin"),
	}
}
