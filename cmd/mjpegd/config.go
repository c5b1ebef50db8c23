package main

import (
	"encoding/json"
	"errors"
	"os"
)

// Config is the persisted shape the "service" subcommand reads on
// `run` and writes on `install`, so an installed service can relaunch
// itself without any flags on the command line (spec.md explicitly
// keeps the plain subcommands flag-only and stateless; Config exists
// only to carry those same flag values across a service restart).
type Config struct {
	Mode string `json:"mode"` // "device", "stdin", or "tcp"

	TickMS      int    `json:"tickMs"`
	Port        int    `json:"port"`
	Camera      int    `json:"camera"`
	Addr        string `json:"addr"`
	ExternalCmd string `json:"externalCommand"`
	MetricsAddr string `json:"metricsAddr"`
	LogFile     string `json:"logFile"`
	Debug       bool   `json:"debug"`
}

// Check defaults and validates c in place.
func (c *Config) Check() error {
	switch c.Mode {
	case "device", "stdin", "tcp":
	case "":
		return errors.New("config: mode is required")
	default:
		return errors.New("config: mode must be one of device, stdin, tcp")
	}
	if c.TickMS <= 0 {
		c.TickMS = 200
	}
	if c.Port <= 0 {
		c.Port = 8080
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9090"
	}
	if c.Mode == "tcp" && c.Addr == "" {
		c.Addr = "localhost:8081"
	}
	return nil
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if err := c.Check(); err != nil {
		return nil, err
	}
	return &c, nil
}

func saveConfig(path string, c *Config) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
