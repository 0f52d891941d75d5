// Package conf holds the engine's Settings struct, defaults, and the
// viper-backed loading/validation pipeline: user-data layout, audio
// device selection, the control/upload listeners, and optional
// telemetry/notification sinks.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

// LogConfig carries the per-sink logging knobs.
type LogConfig struct {
	Enabled bool
	Path    string
	Level   string
}

// Settings is the root configuration object for the engine process.
type Settings struct {
	Debug bool

	Paths struct {
		DataRoot string // root containing projects/, media/, logs/, catalog.db
	}

	Audio struct {
		InputDevice  string
		OutputDevice string
		SampleRate   int
		BlockSize    int
		MaxChannels  int
	}

	Project struct {
		DefaultName string
		DefaultBPM  int
	}

	Wire struct {
		ControlListen string // e.g. ":8089" — websocket control channel
		UploadListen  string // upload endpoint; same process, may share ControlListen
		MaxUploadMB   int
	}

	Catalog struct {
		Enabled bool
		DBPath  string
	}

	Notify struct {
		URLs []string // shoutrrr service URLs
	}

	Sentry struct {
		DSN string
	}

	Log LogConfig
}

var (
	mu       sync.Mutex
	loadedV  *viper.Viper
	loadOnce sync.Once
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	v.SetDefault("paths.dataroot", filepath.Join(home, ".thestuu"))

	v.SetDefault("audio.inputdevice", "")
	v.SetDefault("audio.outputdevice", "")
	v.SetDefault("audio.samplerate", 48000)
	v.SetDefault("audio.blocksize", 512)
	v.SetDefault("audio.maxchannels", 2)

	v.SetDefault("project.defaultname", "Untitled Session")
	v.SetDefault("project.defaultbpm", 120)

	v.SetDefault("wire.controllisten", ":8089")
	v.SetDefault("wire.uploadlisten", ":8089")
	v.SetDefault("wire.maxuploadmb", 256)

	v.SetDefault("catalog.enabled", true)
	v.SetDefault("catalog.dbpath", "catalog.db")

	v.SetDefault("notify.urls", []string{})

	v.SetDefault("sentry.dsn", "")

	v.SetDefault("log.enabled", true)
	v.SetDefault("log.path", "logs")
	v.SetDefault("log.level", "info")
}

// Load reads configuration from (in ascending priority) defaults, a
// config.json (configPathOverride, or else the first found in ~/.thestuu
// or the working directory), and environment variables prefixed THESTUU_.
// Command-line flags are not read here: cmd binds them directly onto the
// returned Settings.
func Load(configPathOverride string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("THESTUU")
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("json")
	if configPathOverride != "" {
		v.SetConfigFile(configPathOverride)
	} else {
		home, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(home, ".thestuu"))
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("conf: read config: %w", err)
		}
	}

	mu.Lock()
	loadedV = v
	mu.Unlock()

	s := &Settings{}
	s.Debug = v.GetBool("debug")
	s.Paths.DataRoot = v.GetString("paths.dataroot")
	s.Audio.InputDevice = v.GetString("audio.inputdevice")
	s.Audio.OutputDevice = v.GetString("audio.outputdevice")
	s.Audio.SampleRate = v.GetInt("audio.samplerate")
	s.Audio.BlockSize = v.GetInt("audio.blocksize")
	s.Audio.MaxChannels = v.GetInt("audio.maxchannels")
	s.Project.DefaultName = v.GetString("project.defaultname")
	s.Project.DefaultBPM = v.GetInt("project.defaultbpm")
	s.Wire.ControlListen = v.GetString("wire.controllisten")
	s.Wire.UploadListen = v.GetString("wire.uploadlisten")
	s.Wire.MaxUploadMB = v.GetInt("wire.maxuploadmb")
	s.Catalog.Enabled = v.GetBool("catalog.enabled")
	s.Catalog.DBPath = v.GetString("catalog.dbpath")
	s.Notify.URLs = v.GetStringSlice("notify.urls")
	s.Sentry.DSN = v.GetString("sentry.dsn")
	s.Log.Enabled = v.GetBool("log.enabled")
	s.Log.Path = v.GetString("log.path")
	s.Log.Level = v.GetString("log.level")

	return s, normalize(s)
}

func normalize(s *Settings) error {
	if s.Audio.SampleRate <= 0 {
		s.Audio.SampleRate = 48000
	}
	if s.Audio.BlockSize <= 0 {
		s.Audio.BlockSize = 512
	}
	if s.Project.DefaultBPM < 20 || s.Project.DefaultBPM > 300 {
		s.Project.DefaultBPM = 120
	}
	if s.Paths.DataRoot == "" {
		return fmt.Errorf("conf: data root must not be empty")
	}
	return os.MkdirAll(s.Paths.DataRoot, 0o755)
}

// ProjectsDir, MediaDir, LogsDir and CatalogPath derive the on-disk
// layout under the user data root.
func (s *Settings) ProjectsDir() string { return filepath.Join(s.Paths.DataRoot, "projects") }
func (s *Settings) MediaDir() string    { return filepath.Join(s.Paths.DataRoot, "media") }
func (s *Settings) LogsDir() string     { return filepath.Join(s.Paths.DataRoot, s.Log.Path) }
func (s *Settings) CatalogPath() string { return filepath.Join(s.Paths.DataRoot, s.Catalog.DBPath) }
func (s *Settings) ConfigPath() string  { return filepath.Join(s.Paths.DataRoot, "config.json") }
