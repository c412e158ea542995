package config

import (
	"github.com/danmuck/calypsold/internal/loader"
	"github.com/danmuck/calypsold/internal/monitor"
	"github.com/danmuck/calypsold/internal/trigger"
)

func (c Config) ServiceConfig() loader.ServiceConfig {
	svc := loader.DefaultServiceConfig()
	svc.SocketPath = c.LoaderSocket
	svc.SanityAddr = c.SanityAddr
	svc.MaxConnections = c.MaxConnections
	svc.AdminAddr = c.AdminAddr
	svc.AdminToken = c.AdminToken
	return svc
}

func (c Config) MonitorConfig() monitor.Config {
	return monitor.Config{
		SocketPath: c.MonitorSocket,
		Settle:     c.MonitorSettle,
		Timeout:    c.MonitorTimeout,
	}
}

func (c Config) TriggerConfig() trigger.Config {
	cfg := trigger.DefaultConfig()
	cfg.Backend = c.Trigger
	cfg.GDBBinary = c.GDBBinary
	cfg.Host = c.GDBHost
	cfg.Port = c.GDBPort
	return cfg
}
