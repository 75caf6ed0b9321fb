package voiceloop

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds client-wide settings. Values come from the environment
// (optionally via a .env file) with sensible defaults.
type Config struct {
	BaseURL          string        `json:"base_url"`
	HTTPTimeout      time.Duration `json:"http_timeout"`
	SilenceThreshold float64       `json:"silence_threshold"`
	SilenceDuration  time.Duration `json:"silence_duration"`
	RestartDelay     time.Duration `json:"restart_delay"`
	DebugHTTP        bool          `json:"debug_http"`
	DebugAudio       bool          `json:"debug_audio"`
	AudioDeviceID    *int          `json:"audio_device_id,omitempty"`
}

func NewConfig() *Config {
	c := &Config{
		BaseURL:          "http://localhost:5000",
		HTTPTimeout:      30 * time.Second,
		SilenceThreshold: 0.015,
		SilenceDuration:  1500 * time.Millisecond,
		RestartDelay:     500 * time.Millisecond,
	}

	// Load from env
	c.loadFromEnv()

	return c
}

func (c *Config) loadFromEnv() {
	// Load .env if exists
	_ = godotenv.Load()

	if baseURL := os.Getenv("VOICELOOP_API_BASE_URL"); baseURL != "" {
		c.BaseURL = baseURL
	}

	if timeout := os.Getenv("VOICELOOP_HTTP_TIMEOUT"); timeout != "" {
		if val, err := time.ParseDuration(timeout); err == nil {
			c.HTTPTimeout = val
		}
	}

	if threshold := os.Getenv("VOICELOOP_SILENCE_THRESHOLD"); threshold != "" {
		if val, err := strconv.ParseFloat(threshold, 64); err == nil {
			c.SilenceThreshold = val
		}
	}

	if duration := os.Getenv("VOICELOOP_SILENCE_DURATION"); duration != "" {
		if val, err := time.ParseDuration(duration); err == nil {
			c.SilenceDuration = val
		}
	}

	if delay := os.Getenv("VOICELOOP_RESTART_DELAY"); delay != "" {
		if val, err := time.ParseDuration(delay); err == nil {
			c.RestartDelay = val
		}
	}

	c.DebugHTTP = os.Getenv("VOICELOOP_DEBUG_HTTP") == "true"
	c.DebugAudio = os.Getenv("VOICELOOP_DEBUG_AUDIO") == "true"

	if deviceIDStr := os.Getenv("VOICELOOP_AUDIO_DEVICE_ID"); deviceIDStr != "" {
		if deviceID, err := strconv.Atoi(deviceIDStr); err == nil {
			c.AudioDeviceID = &deviceID
		}
	}
}

// AudioConfig holds capture/playback device parameters.
type AudioConfig struct {
	SampleRate int
	Channels   int
	BufferSize int
	DeviceID   *int
}

func NewAudioConfig() *AudioConfig {
	return &AudioConfig{
		SampleRate: 16000,
		Channels:   1,
		BufferSize: 1024,
	}
}

// Validate returns list of issues
func (c *Config) Validate() []string {
	issues := []string{}

	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		issues = append(issues, fmt.Sprintf("Invalid base URL: %s", c.BaseURL))
	}

	if c.HTTPTimeout <= 0 {
		issues = append(issues, "HTTP timeout must be positive")
	}

	if c.SilenceThreshold < 0 || c.SilenceThreshold > 1 {
		issues = append(issues, fmt.Sprintf("Silence threshold out of range [0,1]: %f", c.SilenceThreshold))
	}

	if c.SilenceDuration <= 0 {
		issues = append(issues, "Silence duration must be positive")
	}

	if c.RestartDelay < 0 {
		issues = append(issues, "Restart delay cannot be negative")
	}

	return issues
}

func ValidateAudioConfig(config *AudioConfig) *VoiceError {
	if config.SampleRate <= 0 {
		return NewConfigError("Invalid sample rate")
	}
	if config.Channels <= 0 {
		return NewConfigError("Invalid channel count")
	}
	if config.BufferSize <= 0 {
		return NewConfigError("Invalid buffer size")
	}
	return nil
}

func (c *Config) PrintConfig() {
	fmt.Println("🎙  VoiceLoop Configuration")
	fmt.Println("==================================================")
	fmt.Printf("API Base URL: %s\n", c.BaseURL)
	fmt.Printf("HTTP Timeout: %s\n", c.HTTPTimeout)
	fmt.Printf("Silence Threshold: %.3f\n", c.SilenceThreshold)
	fmt.Printf("Silence Duration: %s\n", c.SilenceDuration)
	fmt.Printf("Restart Delay: %s\n", c.RestartDelay)
	fmt.Printf("Debug HTTP: %t\n", c.DebugHTTP)
	fmt.Printf("Debug Audio: %t\n", c.DebugAudio)

	if c.AudioDeviceID != nil {
		fmt.Printf("Audio Device ID: %d\n", *c.AudioDeviceID)
	} else {
		fmt.Println("Audio Device: Default")
	}
}
