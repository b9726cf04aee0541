package main

import "github.com/bryanchriswhite/ScreenCap/cmd/screencap/commands"

func main() {
	commands.Execute()
}
