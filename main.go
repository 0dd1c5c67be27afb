package main

import "github.com/theirongolddev/cplpilot/cmd"

func main() {
	cmd.Execute()
}
