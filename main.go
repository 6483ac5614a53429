package main

import "github.com/sunbk201/clickrelay/cmd"

func main() {
	cmd.Execute()
}
