package main

import (
	"flag"
	"log"

	"github.com/danmuck/calypsold/internal/config"
)

func main() {
	output := flag.String("output", "loaderd.toml", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "loaderd.toml", "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		cfg, err := config.Load(*input)
		if err != nil {
			log.Fatal(err)
		}
		// pid and monitor_socket normally come from the command line
		if cfg.PID == 0 {
			cfg.PID = 1
		}
		if cfg.MonitorSocket == "" {
			cfg.MonitorSocket = "-"
		}
		if err := cfg.Validate(); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated loaderd config at %s", *input)
		return
	}

	if err := config.WriteTemplate(*output, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote loaderd config template to %s", *output)
}
