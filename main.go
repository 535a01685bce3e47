package main

import (
	"log"

	"github.com/EvanCNavarro/disc-sub000/cmd"
)

func main() {
	cmd.Execute()
	// If Execute() had a problem, Cobra would have called os.Exit.
	// Reaching here means the command completed (or the worker exited cleanly).
	log.Println("Command execution finished.")
}
