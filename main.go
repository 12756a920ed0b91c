package main

import "github.com/chatrelay/linedify/cmd"

func main() {
	cmd.Execute()
}
