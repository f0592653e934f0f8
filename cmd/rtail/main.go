package main

import (
	"os"

	"rsh/internal/commands"
)

func main() {
	streams := commands.Stdio()
	os.Exit(commands.Execute(commands.NewRtail(streams), streams))
}
