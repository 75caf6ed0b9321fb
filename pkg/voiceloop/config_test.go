package voiceloop

import (
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	config := NewConfig()

	if config.BaseURL != "http://localhost:5000" {
		t.Errorf("BaseURL = %q", config.BaseURL)
	}
	if config.HTTPTimeout != 30*time.Second {
		t.Errorf("HTTPTimeout = %s", config.HTTPTimeout)
	}
	if config.SilenceThreshold != 0.015 {
		t.Errorf("SilenceThreshold = %f", config.SilenceThreshold)
	}
	if issues := config.Validate(); len(issues) != 0 {
		t.Errorf("defaults do not validate: %v", issues)
	}
}

func TestConfigFromEnvironment(t *testing.T) {
	t.Setenv("VOICELOOP_API_BASE_URL", "https://assistant.example.com")
	t.Setenv("VOICELOOP_HTTP_TIMEOUT", "10s")
	t.Setenv("VOICELOOP_SILENCE_THRESHOLD", "0.02")
	t.Setenv("VOICELOOP_SILENCE_DURATION", "2s")
	t.Setenv("VOICELOOP_RESTART_DELAY", "250ms")
	t.Setenv("VOICELOOP_DEBUG_HTTP", "true")
	t.Setenv("VOICELOOP_AUDIO_DEVICE_ID", "3")

	config := NewConfig()

	if config.BaseURL != "https://assistant.example.com" {
		t.Errorf("BaseURL = %q", config.BaseURL)
	}
	if config.HTTPTimeout != 10*time.Second {
		t.Errorf("HTTPTimeout = %s", config.HTTPTimeout)
	}
	if config.SilenceThreshold != 0.02 {
		t.Errorf("SilenceThreshold = %f", config.SilenceThreshold)
	}
	if config.SilenceDuration != 2*time.Second {
		t.Errorf("SilenceDuration = %s", config.SilenceDuration)
	}
	if config.RestartDelay != 250*time.Millisecond {
		t.Errorf("RestartDelay = %s", config.RestartDelay)
	}
	if !config.DebugHTTP {
		t.Error("DebugHTTP not picked up")
	}
	if config.AudioDeviceID == nil || *config.AudioDeviceID != 3 {
		t.Errorf("AudioDeviceID = %v", config.AudioDeviceID)
	}
}

func TestConfigIgnoresMalformedEnvValues(t *testing.T) {
	t.Setenv("VOICELOOP_HTTP_TIMEOUT", "soon")
	t.Setenv("VOICELOOP_SILENCE_THRESHOLD", "loudish")
	t.Setenv("VOICELOOP_AUDIO_DEVICE_ID", "default")

	config := NewConfig()

	if config.HTTPTimeout != 30*time.Second {
		t.Errorf("malformed timeout overrode the default: %s", config.HTTPTimeout)
	}
	if config.SilenceThreshold != 0.015 {
		t.Errorf("malformed threshold overrode the default: %f", config.SilenceThreshold)
	}
	if config.AudioDeviceID != nil {
		t.Errorf("malformed device id accepted: %v", config.AudioDeviceID)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantBad bool
	}{
		{
			name:   "valid https",
			mutate: func(c *Config) { c.BaseURL = "https://example.com" },
		},
		{
			name:    "bad scheme",
			mutate:  func(c *Config) { c.BaseURL = "ftp://example.com" },
			wantBad: true,
		},
		{
			name:    "zero timeout",
			mutate:  func(c *Config) { c.HTTPTimeout = 0 },
			wantBad: true,
		},
		{
			name:    "threshold above one",
			mutate:  func(c *Config) { c.SilenceThreshold = 1.5 },
			wantBad: true,
		},
		{
			name:    "negative restart delay",
			mutate:  func(c *Config) { c.RestartDelay = -time.Second },
			wantBad: true,
		},
		{
			name:   "zero restart delay is fine",
			mutate: func(c *Config) { c.RestartDelay = 0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewConfig()
			tt.mutate(config)

			issues := config.Validate()
			if tt.wantBad && len(issues) == 0 {
				t.Error("expected validation issues")
			}
			if !tt.wantBad && len(issues) != 0 {
				t.Errorf("unexpected issues: %v", issues)
			}
		})
	}
}

func TestValidateAudioConfig(t *testing.T) {
	if err := ValidateAudioConfig(NewAudioConfig()); err != nil {
		t.Errorf("default audio config rejected: %v", err)
	}

	bad := NewAudioConfig()
	bad.SampleRate = 0
	if err := ValidateAudioConfig(bad); err == nil {
		t.Error("zero sample rate accepted")
	}
}
