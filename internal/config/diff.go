package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// takes effect on restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PlaybackChanged is true when the frame rate or the user-scroll holdoff
	// changed. Live sessions pick up the holdoff immediately and the frame
	// rate on their next attach.
	PlaybackChanged bool
	NewPlayback     PlaybackConfig

	CORSChanged    bool
	NewCORSOrigins []string

	// RestartRequired names the changed sections that only take effect on
	// restart, e.g. "server.listen_addr" or "providers".
	RestartRequired []string
}

// Changed reports whether any hot-reloadable field changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.PlaybackChanged || d.CORSChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Playback != new.Playback {
		d.PlaybackChanged = true
		d.NewPlayback = new.Playback
	}

	if !slices.Equal(old.Server.CORSOrigins, new.Server.CORSOrigins) {
		d.CORSChanged = true
		d.NewCORSOrigins = slices.Clone(new.Server.CORSOrigins)
	}

	restart := []struct {
		name    string
		changed bool
	}{
		{"server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr},
		{"server.tls", !reflect.DeepEqual(old.Server.TLS, new.Server.TLS)},
		{"server.shutdown_timeout", old.Server.ShutdownTimeout != new.Server.ShutdownTimeout},
		{"analysis", old.Analysis != new.Analysis},
		{"providers", !reflect.DeepEqual(old.Providers, new.Providers)},
		{"store", old.Store != new.Store},
		{"media", old.Media != new.Media},
	}
	for _, f := range restart {
		if f.changed {
			d.RestartRequired = append(d.RestartRequired, f.name)
		}
	}

	return d
}
