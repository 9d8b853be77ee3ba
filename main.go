package main

import "github.com/nextlevelbuilder/chatgate/cmd"

func main() {
	cmd.Execute()
}
