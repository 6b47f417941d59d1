// Command tedge-agent is the single-binary entrypoint for the device
// agent: MQTT client, entity store, workflow engine, plugin runner, and
// their REST/file-transfer HTTP surfaces.
package main

import "github.com/thin-edge/tedge-core/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
