package main

import "github.com/kozaktomas/photo-annotator/cmd"

func main() {
	cmd.Execute()
}
