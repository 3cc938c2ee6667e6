package main

import (
	"os"

	"hippo/cmd/hippo/commands"

	"github.com/rs/zerolog/log"
)

func main() {
	if err := commands.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
