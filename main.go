package main

import "github.com/nextlevelbuilder/goclaw-scheduler/cmd"

func main() {
	cmd.Execute()
}
