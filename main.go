package main

import "github.com/kozaktomas/bioauth/cmd"

func main() {
	cmd.Execute()
}
