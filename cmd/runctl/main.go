package main

import (
	"log"

	"github.com/austindbirch/harbor_run/cmd/runctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
