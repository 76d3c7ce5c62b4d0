// Command signalmax runs the feed core operations against the configured backends.
package main

import "github.com/signalmax/signalmax/pkg/cli"

func main() {
	cli.Execute(cli.NewServiceCommand(cli.ServiceCommandOptions{
		Name:        "signalmax",
		Description: "SignalMax feed core: paginated feed, live tail, subtree deletion and targeted push",
	}))
}
