package cmd

import (
	"github.com/urfave/cli"

	"github.com/vhena/regulus/log"
)

var logger = log.New("regulus")

func setupLogging(ctx *cli.Context) {
	if ctx.GlobalBool("v") {
		log.SetLevel(log.Info)
	}

	if ctx.GlobalBool("vv") {
		log.SetLevel(log.Debug)
	}
}
