package main

import "github.com/oshokin/xbps-builder/cmd/xbps-builder/cmd"

func main() {
	cmd.Execute()
}
