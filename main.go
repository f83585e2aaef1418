package main

import "github.com/nexwire/chatgate/cmd"

func main() {
	cmd.Execute()
}
