package main

import "stockroom/cmd/sessionctl/cmd"

func main() {
	cmd.Execute()
}
