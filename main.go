package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"subsentry/cmd/alerts"
	"subsentry/cmd/export"
	"subsentry/cmd/importcmd"
	"subsentry/cmd/recompute"
	"subsentry/cmd/root"
)

func init() {
	// Environment variables feed the SUBSENTRY_ config overrides, so they must
	// load before the root command builds the container.
	loadEnvSilently()

	root.Init()

	root.Cmd.AddCommand(importcmd.Cmd)
	root.Cmd.AddCommand(recompute.Cmd)
	root.Cmd.AddCommand(alerts.Cmd)
	root.Cmd.AddCommand(export.Cmd)
}

// loadEnvSilently loads environment variables without logging anything
func loadEnvSilently() {
	envFile := ".env"
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		envFile = filepath.Join("..", ".env")
		if _, err := os.Stat(envFile); os.IsNotExist(err) {
			return
		}
	}
	_ = godotenv.Load(envFile)
}

func main() {
	if err := root.Cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
