// Package config loads the onvifd configuration from file and environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/SridarDhandapani/onvifd/internal/alarm"
	"github.com/SridarDhandapani/onvifd/internal/logger"
)

var (
	errInvalidPort       = errors.New("ServicePort must be between 1 and 65535")
	errPasswordNoUser    = errors.New("Password is set but Username is empty")
	errInvalidTTL        = errors.New("SubscriptionTTL must be positive")
	errInvalidQueue      = errors.New("MaxQueueLength must be positive")
	errInvalidRelayCount = errors.New("RelayOutputs must not be negative")
	errAlarmSource       = errors.New("alarm input sets both Path and Pin")
)

// EnvPrefix prefixes environment overrides, e.g. ONVIFD_SERVICEPORT.
const EnvPrefix = "ONVIFD"

// DeviceInformation is reported by GetDeviceInformation and WS-Discovery.
type DeviceInformation struct {
	Manufacturer    string `mapstructure:"Manufacturer"`
	Model           string `mapstructure:"Model"`
	FirmwareVersion string `mapstructure:"FirmwareVersion"`
	SerialNumber    string `mapstructure:"SerialNumber"`
	HardwareID      string `mapstructure:"HardwareId"`
}

// AlarmInput configures one alarm channel. Either Path or Pin selects the
// sysfs value file; with neither the channel is simulated. PollInterval and
// DebounceMs are milliseconds; unset means 200, an explicit 0 is honoured.
type AlarmInput struct {
	ID           string `mapstructure:"Id"`
	Path         string `mapstructure:"Path"`
	Pin          *int   `mapstructure:"Pin"`
	PollInterval *int   `mapstructure:"PollInterval"`
	DebounceMs   *int   `mapstructure:"DebounceMs"`
	ActiveHigh   *bool  `mapstructure:"ActiveHigh"`
}

// Config is the complete daemon configuration.
type Config struct {
	ServicePort       int               `mapstructure:"ServicePort"`
	Username          string            `mapstructure:"Username"`
	Password          string            `mapstructure:"Password"`
	DeviceInformation DeviceInformation `mapstructure:"DeviceInformation"`

	AlarmInputs []AlarmInput `mapstructure:"AlarmInputs"`

	// Single-input settings kept for older configuration files.
	AlarmInputPath         string `mapstructure:"AlarmInputPath"`
	AlarmInputPin          *int   `mapstructure:"AlarmInputPin"`
	AlarmInputPollInterval *int   `mapstructure:"AlarmInputPollInterval"`
	AlarmInputDebounceMs   *int   `mapstructure:"AlarmInputDebounceMs"`
	AlarmInputActiveHigh   *bool  `mapstructure:"AlarmInputActiveHigh"`

	SubscriptionTTL      time.Duration `mapstructure:"SubscriptionTTL"`
	MaxQueueLength       int           `mapstructure:"MaxQueueLength"`
	PushTimeout          time.Duration `mapstructure:"PushTimeout"`
	RelayOutputs         int           `mapstructure:"RelayOutputs"`
	Discovery            bool          `mapstructure:"Discovery"`
	RejectReplayedNonces bool          `mapstructure:"RejectReplayedNonces"`

	Log logger.Config `mapstructure:"Log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ServicePort", 8081)
	v.SetDefault("Username", "")
	v.SetDefault("Password", "")
	v.SetDefault("SubscriptionTTL", "60s")
	v.SetDefault("MaxQueueLength", 50)
	v.SetDefault("PushTimeout", "5s")
	v.SetDefault("RelayOutputs", 4)
	v.SetDefault("Discovery", false)
	v.SetDefault("RejectReplayedNonces", false)
	v.SetDefault("DeviceInformation.Manufacturer", "onvifd")
	v.SetDefault("DeviceInformation.Model", "Alarm I/O Bridge")
	v.SetDefault("DeviceInformation.FirmwareVersion", "1.0.0")
	v.SetDefault("DeviceInformation.SerialNumber", "000000")
	v.SetDefault("DeviceInformation.HardwareId", "onvifd")

	def := logger.DefaultConfig()
	v.SetDefault("Log.Level", def.Level)
	v.SetDefault("Log.Output", def.Output)
	v.SetDefault("Log.TimeFormat", def.TimeFormat)
	v.SetDefault("Log.MaxSizeMB", def.MaxSizeMB)
	v.SetDefault("Log.MaxBackups", def.MaxBackups)
	v.SetDefault("Log.MaxAgeDays", def.MaxAgeDays)
}

// Load reads the configuration file at path (any format viper understands)
// and applies ONVIFD_* environment overrides. An empty path uses defaults
// and the environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.ServicePort <= 0 || c.ServicePort > 65535 {
		return errInvalidPort
	}

	if c.Username == "" && c.Password != "" {
		return errPasswordNoUser
	}

	if c.SubscriptionTTL <= 0 {
		return errInvalidTTL
	}

	if c.MaxQueueLength <= 0 {
		return errInvalidQueue
	}

	if c.RelayOutputs < 0 {
		return errInvalidRelayCount
	}

	for _, in := range c.AlarmInputs {
		if in.Path != "" && in.Pin != nil {
			return fmt.Errorf("%w: %q", errAlarmSource, in.ID)
		}
	}

	return nil
}

// AlarmChannels resolves the configured alarm inputs, falling back to the
// legacy single-input settings. It returns nil when nothing is configured,
// which leaves the monitor on its simulated defaults.
func (c *Config) AlarmChannels() []alarm.ChannelConfig {
	inputs := c.AlarmInputs

	if len(inputs) == 0 && (c.AlarmInputPath != "" || c.AlarmInputPin != nil) {
		inputs = []AlarmInput{{
			Path:         c.AlarmInputPath,
			Pin:          c.AlarmInputPin,
			PollInterval: c.AlarmInputPollInterval,
			DebounceMs:   c.AlarmInputDebounceMs,
			ActiveHigh:   c.AlarmInputActiveHigh,
		}}
	}

	if len(inputs) > alarm.MaxChannels {
		inputs = inputs[:alarm.MaxChannels]
	}

	var channels []alarm.ChannelConfig

	for i, in := range inputs {
		ch := alarm.ChannelConfig{
			ID:           in.ID,
			PollInterval: millis(in.PollInterval, alarm.DefaultPollInterval),
			Debounce:     millis(in.DebounceMs, alarm.DefaultDebounce),
			ActiveHigh:   in.ActiveHigh == nil || *in.ActiveHigh,
		}

		if ch.ID == "" {
			ch.ID = alarm.DefaultChannelID(i + 1)
		}

		switch {
		case in.Path != "":
			ch.Source = alarm.FileSource{Path: in.Path}
		case in.Pin != nil:
			ch.Source = alarm.FileSource{Path: alarm.GPIOPath(*in.Pin)}
		}

		channels = append(channels, ch)
	}

	return channels
}

func millis(v *int, def time.Duration) time.Duration {
	if v == nil {
		return def
	}

	return time.Duration(*v) * time.Millisecond
}
