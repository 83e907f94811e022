package config

import (
	"fmt"
	"time"
)

// Kiosk is the configuration of an access terminal.
type Kiosk struct {
	DeviceID    string  `json:"device_id" toml:"device_id" default:"rpi_device_01"`
	TopicPrefix string  `json:"topic_prefix" toml:"topic_prefix" default:"acceso"`
	Listen      string  `json:"listen" toml:"listen" default:"127.0.0.1:8081"`
	LogDir      string  `json:"log_dir" toml:"log_dir"`
	Broker      Broker  `json:"broker" toml:"broker"`
	Sensor      Sensor  `json:"sensor" toml:"sensor"`
	Session     Session `json:"session" toml:"session"`
}

// Sensor describes the fingerprint module's serial link.
type Sensor struct {
	Port     string `json:"port" toml:"port" default:"/dev/ttyAMA0"`
	BaudRate int    `json:"baud_rate" toml:"baud_rate" default:"57600"`
	Address  uint32 `json:"address" toml:"address" default:"4294967295"`
	Password uint32 `json:"password" toml:"password"`
	Capacity int    `json:"capacity" toml:"capacity" default:"200"`
}

// Session tunes the kiosk's interaction timing.
type Session struct {
	StreamFPS      float64 `json:"stream_fps" toml:"stream_fps" default:"10"`
	ResultDisplay  string  `json:"result_display" toml:"result_display" default:"2s"`
	PollInterval   string  `json:"poll_interval" toml:"poll_interval" default:"50ms"`
	RemovalSettle  string  `json:"removal_settle" toml:"removal_settle" default:"500ms"`
	VerifyAttempts int     `json:"verify_attempts" toml:"verify_attempts" default:"50"`
	EnrollAttempts int     `json:"enroll_attempts" toml:"enroll_attempts" default:"100"`
}

// LoadKiosk reads a kiosk configuration. An empty path returns defaults.
func LoadKiosk(path string) (*Kiosk, error) {
	cfg := &Kiosk{}
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all values are usable.
func (c *Kiosk) Validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	if err := c.Broker.validate(); err != nil {
		return err
	}
	if c.Sensor.Capacity <= 0 || c.Sensor.Capacity > 0xFFFF {
		return fmt.Errorf("sensor capacity must be between 1 and 65535, got %d", c.Sensor.Capacity)
	}
	if c.Session.StreamFPS <= 0 {
		return fmt.Errorf("stream_fps must be positive, got %v", c.Session.StreamFPS)
	}
	if c.Session.VerifyAttempts <= 0 || c.Session.EnrollAttempts <= 0 {
		return fmt.Errorf("capture attempt limits must be positive")
	}
	for name, v := range map[string]string{
		"result_display": c.Session.ResultDisplay,
		"poll_interval":  c.Session.PollInterval,
		"removal_settle": c.Session.RemovalSettle,
	} {
		if _, err := parseDuration(name, v); err != nil {
			return err
		}
	}
	return nil
}

func (s Session) GetResultDisplay() time.Duration { return mustDuration(s.ResultDisplay, 2*time.Second) }

func (s Session) GetPollInterval() time.Duration { return mustDuration(s.PollInterval, 50*time.Millisecond) }

func (s Session) GetRemovalSettle() time.Duration {
	return mustDuration(s.RemovalSettle, 500*time.Millisecond)
}

// GetFrameInterval is the minimum spacing between streamed frames.
func (s Session) GetFrameInterval() time.Duration {
	return time.Duration(float64(time.Second) / s.StreamFPS)
}
