package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dkarpov/calvault/internal/client/cli"
	"github.com/dkarpov/calvault/internal/client/config"
)

func main() {
	cfg := config.LoadConfig()

	app := cli.NewApp(cfg)
	if err := app.Execute(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
