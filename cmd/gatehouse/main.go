package main

import "github.com/alechenninger/gatehouse/internal/cli"

func main() {
	cli.Execute()
}
