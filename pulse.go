package main

import (
	"github.com/Itwoss/pulse/cmd"
	"github.com/jessevdk/go-flags"
	"log"
	"os"
)

func main() {
	parser := flags.NewParser(nil, flags.Default)

	_, err := parser.AddCommand("start",
		"start the pulse notification client",
		"The start command connects to the notification gateway and tails "+
			"incoming notifications to the terminal until interrupted.",
		&cmd.Start{})
	if err != nil {
		log.Fatal(err)
	}
	_, err = parser.AddCommand("init",
		"initialize a pulse data directory",
		"The init command creates and initializes a new data directory, "+
			"default config file, and notification cache database.",
		&cmd.Init{})
	if err != nil {
		log.Fatal(err)
	}
	_, err = parser.AddCommand("mocknet",
		"start a local mock notification server",
		"The mocknet command runs a local notification gateway which pushes "+
			"canned notifications on an interval. It is intended for development "+
			"and manual testing of clients.",
		&cmd.MockNet{})
	if err != nil {
		log.Fatal(err)
	}

	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}
}
