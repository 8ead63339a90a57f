package main

import "github.com/myyrakle/clockpipe/cmd"

func main() {
	cmd.Execute()
}
