package main

import "steadytls/cmd"

func main() {
	cmd.Execute()
}
