package main

import "github.com/climate-health/chap/cmd/chap/cmd"

func main() {
	cmd.Execute()
}
