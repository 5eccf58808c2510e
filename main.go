package main

import "github.com/artbay/market-bridge/cmd"

func main() {
	cmd.Execute()
}
