package main

import "github.com/prism-data/prism/cmd/prism/cmd"

func main() {
	cmd.Execute()
}
