package main

import (
	"os"

	_ "time/tzdata"

	"github.com/oracle-engine/server/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
