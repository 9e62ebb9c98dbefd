package main

import "github.com/audiolibrelab/echoprint/cmd"

func main() {
	cmd.Execute()
}
