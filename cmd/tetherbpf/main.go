// Command tetherbpf loads and pins the tethering BPF objects, serves
// the socket tagging control service and orchestrates hardware
// offload sessions.
package main

import (
	"github.com/alecthomas/kong"

	"github.com/tetherbpf/tetherbpf/cmd/tetherbpf/cli"
)

func main() {
	var c cli.CLI
	kctx := kong.Parse(&c, cli.KongOptions()...)
	kctx.FatalIfErrorf(kctx.Run(&c))
}
