package main

import "htdiag/cmd"

func main() {
	cmd.Execute()
}
