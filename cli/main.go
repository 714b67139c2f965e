package main

import "southwinds.dev/locker/cli/cmd"

func main() {
	cmd.Execute()
}
