package config

import (
	"fmt"
	"time"
)

// Verifier is the configuration of the verification backend.
type Verifier struct {
	DBPath      string     `json:"db_path" toml:"db_path" default:"accessgate.db"`
	TopicPrefix string     `json:"topic_prefix" toml:"topic_prefix" default:"acceso"`
	Listen      string     `json:"listen" toml:"listen" default:"127.0.0.1:8090"`
	LogDir      string     `json:"log_dir" toml:"log_dir"`
	Broker      Broker     `json:"broker" toml:"broker"`
	Liveness    Liveness   `json:"liveness" toml:"liveness"`
	Matching    Matching   `json:"matching" toml:"matching"`
	FaceEngine  FaceEngine `json:"face_engine" toml:"face_engine"`
}

// Liveness tunes the blink challenge.
type Liveness struct {
	BlinksRequired    int     `json:"blinks_required" toml:"blinks_required" default:"2"`
	Timeout           string  `json:"timeout" toml:"timeout" default:"12s"`
	EARThreshold      float64 `json:"ear_threshold" toml:"ear_threshold" default:"0.25"`
	ConsecutiveFrames int     `json:"consecutive_frames" toml:"consecutive_frames" default:"2"`
	SweepInterval     string  `json:"sweep_interval" toml:"sweep_interval" default:"30s"`
}

// Matching locates the face gallery and sets the match tolerance.
type Matching struct {
	Tolerance     float64 `json:"tolerance" toml:"tolerance" default:"0.6"`
	EncodingsPath string  `json:"encodings_path" toml:"encodings_path" default:"encodings.json"`
	DatasetDir    string  `json:"dataset_dir" toml:"dataset_dir" default:"dataset"`
}

// FaceEngine describes the helper processes that detect and encode faces.
type FaceEngine struct {
	Command string `json:"command" toml:"command" default:"python3"`
	Script  string `json:"script" toml:"script" default:"python/face_worker.py"`
	Workers int    `json:"workers" toml:"workers" default:"2"`
	Timeout string `json:"timeout" toml:"timeout" default:"5s"`
}

// LoadVerifier reads a verifier configuration. An empty path returns defaults.
func LoadVerifier(path string) (*Verifier, error) {
	cfg := &Verifier{}
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all values are usable.
func (c *Verifier) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if err := c.Broker.validate(); err != nil {
		return err
	}
	if c.Liveness.BlinksRequired <= 0 {
		return fmt.Errorf("blinks_required must be positive, got %d", c.Liveness.BlinksRequired)
	}
	if c.Liveness.EARThreshold <= 0 || c.Liveness.EARThreshold >= 1 {
		return fmt.Errorf("ear_threshold must be in (0, 1), got %v", c.Liveness.EARThreshold)
	}
	if c.Liveness.ConsecutiveFrames <= 0 {
		return fmt.Errorf("consecutive_frames must be positive, got %d", c.Liveness.ConsecutiveFrames)
	}
	if c.Matching.Tolerance <= 0 {
		return fmt.Errorf("tolerance must be positive, got %v", c.Matching.Tolerance)
	}
	if c.FaceEngine.Workers <= 0 {
		return fmt.Errorf("face engine workers must be positive, got %d", c.FaceEngine.Workers)
	}
	for name, v := range map[string]string{
		"liveness timeout":    c.Liveness.Timeout,
		"sweep_interval":      c.Liveness.SweepInterval,
		"face engine timeout": c.FaceEngine.Timeout,
	} {
		if _, err := parseDuration(name, v); err != nil {
			return err
		}
	}
	return nil
}

func (l Liveness) GetTimeout() time.Duration { return mustDuration(l.Timeout, 12*time.Second) }

func (l Liveness) GetSweepInterval() time.Duration { return mustDuration(l.SweepInterval, 30*time.Second) }

func (f FaceEngine) GetTimeout() time.Duration { return mustDuration(f.Timeout, 5*time.Second) }
