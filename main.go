package main

import "github.com/arcward/teacloud/cmd"

func main() {
	cmd.Execute()
}
