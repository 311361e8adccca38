package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"emotion-relay/internal/app/commands"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cliApp := &cli.App{
		Name:  "emotion-relay",
		Usage: "Real-time relay between camera clients and the emotion recognition backend",
		Commands: append(commands.GetCommands(), &cli.Command{
			Name:  "version",
			Usage: "Print version information",
			Action: func(c *cli.Context) error {
				fmt.Printf("emotion-relay\n")
				fmt.Printf("Version:    %s\n", Version)
				fmt.Printf("Commit:     %s\n", Commit)
				fmt.Printf("Build Date: %s\n", BuildDate)
				return nil
			},
		}),
		DefaultCommand: "server",
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
