package main

import "LongVideoAssistant/cmd"

func main() {
	cmd.Execute()
}
