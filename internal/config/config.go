// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. DYNTARGET_MQTT_BROKER.
const EnvPrefix = "DYNTARGET"

// DefaultPath is the config file looked up when no path is given on the command line.
const DefaultPath = "dyntarget_config.txt"

// Source kinds.
const (
	SourceSerial = "serial"
	SourceMQTT   = "mqtt"
	SourceMock   = "mock"
)

// Store kinds.
const (
	StoreMQTT     = "mqtt"
	StorePostgres = "postgres"
)

// Stop policies.
const (
	StopFinish = "finish"
	StopCancel = "cancel"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string

	// Topics
	TopicTarget string // shared document the agent republishes to
	TopicGPS    string // upstream fixes when SOURCE=mqtt

	// Position source
	Source        string
	GPSSerialPort string
	GPSBaudRate   int
	MockCenterLat float64
	MockCenterLon float64

	// Remote store
	Store       string
	PostgresDSN string
	DocumentID  string

	// Timing
	SampleInterval     time.Duration
	MinPublishInterval time.Duration
	PublishTimeout     time.Duration // 0 disables the bound
	ShutdownGrace      time.Duration
	StopPolicy         string

	// Web Server
	WebServerPort int

	// Preferences
	PrefsPath string

	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string
}

// Package-level singleton, set once by InitGlobal and read through Get.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

var defaults = map[string]any{
	"MQTT_BROKER":          "tcp://localhost:1883",
	"MQTT_CLIENT_ID":       "",
	"MQTT_USERNAME":        "",
	"MQTT_PASSWORD":        "",
	"TOPIC_TARGET":         "missiondata/locations/target",
	"TOPIC_GPS":            "inertial/gps",
	"SOURCE":               SourceSerial,
	"GPS_SERIAL_PORT":      "/dev/serial0",
	"GPS_BAUD_RATE":        9600,
	"MOCK_CENTER_LAT":      0.0,
	"MOCK_CENTER_LON":      0.0,
	"STORE":                StoreMQTT,
	"POSTGRES_DSN":         "",
	"DOCUMENT_ID":          "missiondata/locations",
	"SAMPLE_INTERVAL":      3000, // milliseconds
	"MIN_PUBLISH_INTERVAL": 3000, // milliseconds
	"PUBLISH_TIMEOUT":      10000,
	"SHUTDOWN_GRACE":       5000,
	"STOP_POLICY":          StopFinish,
	"WEB_SERVER_PORT":      8080,
	"PREFS_PATH":           "~/.config/dyntarget/prefs.toml",
	"LOG_LEVEL":            "info",
	"LOG_FORMAT":           "console",
	"LOG_FILE":             "",
}

// Load reads the KEY=VALUE configuration file and applies DYNTARGET_* environment
// overrides. An empty path loads defaults and environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	if err := checkKeys(v); err != nil {
		return nil, err
	}

	cfg, err := fromViper(v)
	if err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// checkKeys rejects keys in the file that nothing reads, typos included.
func checkKeys(v *viper.Viper) error {
	var unknown []string
	for _, key := range v.AllKeys() {
		if _, ok := defaults[strings.ToUpper(key)]; !ok {
			unknown = append(unknown, strings.ToUpper(key))
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown config key(s): %s", strings.Join(unknown, ", "))
	}
	return nil
}

func fromViper(v *viper.Viper) (*Config, error) {
	c := &Config{
		MQTTBroker:    strings.TrimSpace(v.GetString("MQTT_BROKER")),
		MQTTClientID:  strings.TrimSpace(v.GetString("MQTT_CLIENT_ID")),
		MQTTUsername:  v.GetString("MQTT_USERNAME"),
		MQTTPassword:  v.GetString("MQTT_PASSWORD"),
		TopicTarget:   strings.TrimSpace(v.GetString("TOPIC_TARGET")),
		TopicGPS:      strings.TrimSpace(v.GetString("TOPIC_GPS")),
		Source:        strings.ToLower(strings.TrimSpace(v.GetString("SOURCE"))),
		GPSSerialPort: strings.TrimSpace(v.GetString("GPS_SERIAL_PORT")),
		Store:         strings.ToLower(strings.TrimSpace(v.GetString("STORE"))),
		PostgresDSN:   strings.TrimSpace(v.GetString("POSTGRES_DSN")),
		DocumentID:    strings.TrimSpace(v.GetString("DOCUMENT_ID")),
		StopPolicy:    strings.ToLower(strings.TrimSpace(v.GetString("STOP_POLICY"))),
		PrefsPath:     strings.TrimSpace(v.GetString("PREFS_PATH")),
		LogLevel:      strings.ToLower(strings.TrimSpace(v.GetString("LOG_LEVEL"))),
		LogFormat:     strings.ToLower(strings.TrimSpace(v.GetString("LOG_FORMAT"))),
		LogFile:       strings.TrimSpace(v.GetString("LOG_FILE")),
	}

	var err error
	if c.GPSBaudRate, err = intValue(v, "GPS_BAUD_RATE"); err != nil {
		return nil, err
	}
	if c.WebServerPort, err = intValue(v, "WEB_SERVER_PORT"); err != nil {
		return nil, err
	}
	if c.MockCenterLat, err = floatValue(v, "MOCK_CENTER_LAT"); err != nil {
		return nil, err
	}
	if c.MockCenterLon, err = floatValue(v, "MOCK_CENTER_LON"); err != nil {
		return nil, err
	}
	if c.SampleInterval, err = millisValue(v, "SAMPLE_INTERVAL"); err != nil {
		return nil, err
	}
	if c.MinPublishInterval, err = millisValue(v, "MIN_PUBLISH_INTERVAL"); err != nil {
		return nil, err
	}
	if c.PublishTimeout, err = millisValue(v, "PUBLISH_TIMEOUT"); err != nil {
		return nil, err
	}
	if c.ShutdownGrace, err = millisValue(v, "SHUTDOWN_GRACE"); err != nil {
		return nil, err
	}

	return c, nil
}

func intValue(v *viper.Viper, key string) (int, error) {
	raw := strings.TrimSpace(v.GetString(key))
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func floatValue(v *viper.Viper, key string) (float64, error) {
	raw := strings.TrimSpace(v.GetString(key))
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return f, nil
}

func millisValue(v *viper.Viper, key string) (time.Duration, error) {
	n, err := intValue(v, key)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%s must be >= 0 milliseconds, got %d", key, n)
	}
	return time.Duration(n) * time.Millisecond, nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	switch c.Source {
	case SourceSerial:
		if c.GPSSerialPort == "" {
			return fmt.Errorf("GPS_SERIAL_PORT is required for SOURCE=%s", SourceSerial)
		}
		if c.GPSBaudRate <= 0 {
			return fmt.Errorf("GPS_BAUD_RATE must be positive, got %d", c.GPSBaudRate)
		}
	case SourceMQTT:
		if c.TopicGPS == "" {
			return fmt.Errorf("TOPIC_GPS is required for SOURCE=%s", SourceMQTT)
		}
	case SourceMock:
	default:
		return fmt.Errorf("SOURCE must be one of serial, mqtt, mock, got %q", c.Source)
	}

	switch c.Store {
	case StoreMQTT:
		if c.TopicTarget == "" {
			return fmt.Errorf("TOPIC_TARGET is required for STORE=%s", StoreMQTT)
		}
	case StorePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for STORE=%s", StorePostgres)
		}
		if c.DocumentID == "" {
			return fmt.Errorf("DOCUMENT_ID is required for STORE=%s", StorePostgres)
		}
	default:
		return fmt.Errorf("STORE must be one of mqtt, postgres, got %q", c.Store)
	}

	if c.UsesMQTT() && c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.SampleInterval == 0 {
		return fmt.Errorf("SAMPLE_INTERVAL must be positive")
	}
	if c.StopPolicy != StopFinish && c.StopPolicy != StopCancel {
		return fmt.Errorf("STOP_POLICY must be finish or cancel, got %q", c.StopPolicy)
	}
	if c.WebServerPort < 0 || c.WebServerPort > 65535 {
		return fmt.Errorf("WEB_SERVER_PORT must be 0-65535, got %d", c.WebServerPort)
	}
	return nil
}

// UsesMQTT reports whether any configured component talks to the broker.
func (c *Config) UsesMQTT() bool {
	return c.Source == SourceMQTT || c.Store == StoreMQTT
}

// InitGlobal initializes the global configuration from file.
// Only the first call loads; later calls return nil.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
