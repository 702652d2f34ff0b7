package main

import "github.com/naka-gawa/clone-traffic/cmd"

func main() {
	cmd.Execute()
}
