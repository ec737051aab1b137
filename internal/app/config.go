package app

import "fmt"

// NewConfig validates an AppConfig and returns it ready for use.
func NewConfig(cfg AppConfig) (*AppConfig, error) {
	if cfg.ConfigPath == "" {
		return nil, fmt.Errorf("a configuration path is required")
	}
	if cfg.HealthcheckPort < 0 || cfg.HealthcheckPort > 65535 {
		return nil, fmt.Errorf("healthcheck port %d is out of range", cfg.HealthcheckPort)
	}
	return &cfg, nil
}
