package main

import "medplum-mcp/cmd"

func main() {
	cmd.Execute()
}
