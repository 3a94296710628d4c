// Command ffbox mounts, pushes, and deploys ffbox trees: mount exposes
// a bucket or local directory as a lazily-materialized FUSE tree, push
// publishes a local directory's manifest (and optionally records its
// read order) to a bucket, and deploy publishes manifests pointing
// back at the local directory itself.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
