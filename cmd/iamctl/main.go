// Command iamctl runs the campaign backend and drives the SDK against it from
// the command line.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
