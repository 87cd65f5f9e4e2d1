package main

import (
	"flag"
	"log"

	"github.com/danmuck/wampd/internal/config"
)

func main() {
	output := flag.String("output", "wampd.toml", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "wampd.toml", "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		cfg, err := config.Load(*input)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated wampd config at %s realm=%s topics=%d", *input, cfg.Realm, len(cfg.Topics))
		return
	}

	if err := config.WriteTemplate(*output, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote wampd config template to %s", *output)
}
