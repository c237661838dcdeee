package main

import "github.com/oshokin/release-server/cmd/release-packager/cmd"

func main() {
	cmd.Execute()
}
