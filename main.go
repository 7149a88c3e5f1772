package main

import "github.com/ytsclub/sophbot/cmd"

func main() {
	cmd.Execute()
}
