package main

import "github.com/bryan-buckman/aurora/cmd"

func main() {
	cmd.Execute()
}
