// Command aquadoggo-node runs a single node of the peer-to-peer log
// network: it wires the store, publish pipeline, task queue,
// materializer, schema provider, query planner, and replication engine
// together and keeps them running until told to stop.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/p2panda/aquadoggo/internal/cli"
)

func main() {
	root := cli.NewRootCommand()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
