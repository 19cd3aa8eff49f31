package main

import "github.com/devicelab-dev/simkeeper/pkg/cli"

func main() {
	cli.Execute()
}
