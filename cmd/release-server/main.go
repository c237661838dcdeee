package main

import "github.com/oshokin/release-server/cmd/release-server/cmd"

func main() {
	cmd.Execute()
}
