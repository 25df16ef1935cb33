package main

import "github.com/djyosi/rubisos/cmd"

func main() {
	cmd.Run()
}
