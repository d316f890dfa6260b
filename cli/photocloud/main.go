// Package main is the photocloud command itself.
package main

import (
	"log"
	"os"

	"github.com/photocloud/photocloud/cli"
)

func main() {
	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
