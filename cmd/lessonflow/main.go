// Command lessonflow runs lesson workflows from the terminal, over HTTP or as
// an MCP server.
package main

func main() {
	Execute()
}
