package main

import "github/chapool/tiered-custody/cmd"

func main() {
	cmd.Execute()
}
