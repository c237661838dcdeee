package main

import "github.com/oshokin/release-server/cmd/release-updater/cmd"

func main() {
	cmd.Execute()
}
