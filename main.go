package main

import "dndj/cmd"

func main() {
	cmd.Execute()
}
