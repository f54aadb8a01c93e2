package main

import "github.com/memexhq/memex/cmd"

func main() {
	cmd.Execute()
}
