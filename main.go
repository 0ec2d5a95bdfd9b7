package main

import "github.com/botfleet/botfleet/cmd"

func main() {
	cmd.Execute()
}
