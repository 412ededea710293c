package main

import "github.com/example/deepfake-detector/cmd"

func main() {
	cmd.Execute()
}
