package main

import "wsstress/cmd"

func main() {
	cmd.Execute()
}
