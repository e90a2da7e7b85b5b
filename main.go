package main

import (
	"github.com/hzfeng/StratPilot/internal/cli"
)

func main() {
	cli.Run()
}
