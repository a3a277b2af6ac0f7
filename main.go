package main

import "github.com/nextlevelbuilder/aiorg/cmd"

func main() {
	cmd.Execute()
}
