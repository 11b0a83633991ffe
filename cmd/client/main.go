package main

import "portalsync/cmd/client/cmd"

func main() {
	cmd.Execute()
}
