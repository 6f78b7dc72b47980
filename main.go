package main

import "github.com/tanq16/rangepull/cmd"

func main() {
	cmd.Execute()
}
