package main

import "github.com/stevehiehn/stepwise/cmd"

func main() {
	cmd.Execute()
}
