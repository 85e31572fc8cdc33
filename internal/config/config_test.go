package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SridarDhandapani/onvifd/internal/alarm"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.ServicePort)
	assert.Equal(t, 60*time.Second, cfg.SubscriptionTTL)
	assert.Equal(t, 50, cfg.MaxQueueLength)
	assert.Equal(t, 5*time.Second, cfg.PushTimeout)
	assert.Equal(t, 4, cfg.RelayOutputs)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Nil(t, cfg.AlarmChannels())
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "rposConfig.json", `{
		"ServicePort": 8000,
		"Username": "admin",
		"Password": "secret",
		"SubscriptionTTL": "2m",
		"AlarmInputs": [
			{"Id": "door", "Path": "/tmp/door", "DebounceMs": 50},
			{"Pin": 17, "ActiveHigh": false, "PollInterval": 100}
		],
		"Log": {"Level": "debug"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.ServicePort)
	assert.Equal(t, "admin", cfg.Username)
	assert.Equal(t, 2*time.Minute, cfg.SubscriptionTTL)
	assert.Equal(t, "debug", cfg.Log.Level)

	channels := cfg.AlarmChannels()
	require.Len(t, channels, 2)

	assert.Equal(t, "door", channels[0].ID)
	assert.Equal(t, alarm.FileSource{Path: "/tmp/door"}, channels[0].Source)
	assert.Equal(t, 50*time.Millisecond, channels[0].Debounce)
	assert.Equal(t, alarm.DefaultPollInterval, channels[0].PollInterval)
	assert.True(t, channels[0].ActiveHigh)

	assert.Equal(t, "input2", channels[1].ID)
	assert.Equal(t, alarm.FileSource{Path: "/sys/class/gpio/gpio17/value"}, channels[1].Source)
	assert.Equal(t, 100*time.Millisecond, channels[1].PollInterval)
	assert.Equal(t, alarm.DefaultDebounce, channels[1].Debounce)
	assert.False(t, channels[1].ActiveHigh)
}

func TestExplicitZeroTimingsAreHonoured(t *testing.T) {
	path := writeConfig(t, "zero.json", `{
		"AlarmInputs": [{"Id": "door", "Path": "/tmp/door", "DebounceMs": 0, "PollInterval": 0}]
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	channels := cfg.AlarmChannels()
	require.Len(t, channels, 1)
	assert.Zero(t, channels[0].Debounce)
	assert.Zero(t, channels[0].PollInterval)
}

func TestLoadYAMLLegacyInput(t *testing.T) {
	path := writeConfig(t, "onvifd.yaml", `
ServicePort: 9000
AlarmInputPin: 4
AlarmInputDebounceMs: 25
AlarmInputActiveHigh: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	channels := cfg.AlarmChannels()
	require.Len(t, channels, 1)
	assert.Equal(t, "input1", channels[0].ID)
	assert.Equal(t, alarm.FileSource{Path: alarm.GPIOPath(4)}, channels[0].Source)
	assert.Equal(t, 25*time.Millisecond, channels[0].Debounce)
	assert.False(t, channels[0].ActiveHigh)
}

func TestAlarmChannelsCapped(t *testing.T) {
	cfg := &Config{AlarmInputs: make([]AlarmInput, 6)}

	channels := cfg.AlarmChannels()
	require.Len(t, channels, alarm.MaxChannels)

	for _, ch := range channels {
		assert.Nil(t, ch.Source)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("ONVIFD_SERVICEPORT", "9100")
	t.Setenv("ONVIFD_USERNAME", "operator")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.ServicePort)
	assert.Equal(t, "operator", cfg.Username)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{ServicePort: 80, SubscriptionTTL: time.Second, MaxQueueLength: 1}
	}

	cfg := valid()
	require.NoError(t, cfg.Validate())

	cfg = valid()
	cfg.ServicePort = 70000
	assert.ErrorIs(t, cfg.Validate(), errInvalidPort)

	cfg = valid()
	cfg.Password = "orphan"
	assert.ErrorIs(t, cfg.Validate(), errPasswordNoUser)

	cfg = valid()
	cfg.SubscriptionTTL = 0
	assert.ErrorIs(t, cfg.Validate(), errInvalidTTL)

	cfg = valid()
	cfg.MaxQueueLength = 0
	assert.ErrorIs(t, cfg.Validate(), errInvalidQueue)

	cfg = valid()
	cfg.RelayOutputs = -1
	assert.ErrorIs(t, cfg.Validate(), errInvalidRelayCount)

	pin := 3
	cfg = valid()
	cfg.AlarmInputs = []AlarmInput{{ID: "x", Path: "/a", Pin: &pin}}
	assert.ErrorIs(t, cfg.Validate(), errAlarmSource)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
