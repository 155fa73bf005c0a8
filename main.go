package main

import "github.com/ccdocs/relay/cmd"

func main() {
	cmd.Execute()
}
