package main

import (
	"flag"

	"github.com/leshachaplin/feedbackhook/app"
	"github.com/leshachaplin/feedbackhook/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	a := app.New(func() (config.Config, error) {
		return config.Load(*configPath)
	})
	a.Start()
}
