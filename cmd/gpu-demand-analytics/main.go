package main

import (
	"log"
	"os"

	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/cli"
)

// Main entry point for `gpu_demand_analytics` app.
func main() {
	app, err := cli.NewAnalyticsApp()
	if err != nil {
		panic("Failed to create an instance of the analytics app")
	}

	if err := app.Main(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}
