package config

import (
	"fmt"
	"os"
)

func Template() string {
	return loaderdTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(loaderdTemplate), 0o600)
}

const loaderdTemplate = `# pid and monitor_socket are usually passed on the command line.
# pid = 12345
# monitor_socket = "/tmp/qemu-monitor.sock"

loader_socket = "/tmp/osmocom_loader"
gdb_host = "127.0.0.1"
gdb_port = 1234

# gdb runs gdb_binary in batch mode; rsp speaks the remote serial protocol directly.
trigger = "gdb"
gdb_binary = "arm-none-eabi-gdb"

monitor_settle = "300ms"
monitor_timeout = "2s"

# 0 serves every client concurrently.
max_connections = 0
sanity_addr = "0x820000"

# admin_addr = "127.0.0.1:7080"
# admin_token = "change-me"
# stats_addr = "127.0.0.1:18066"

# reloaded while running
log_level = "info"
`
