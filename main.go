package main

import "kaos.obsgrid.org/cli"

func main() {
	cli.Execute()
}
