package main

import "github.com/vietddude/drcheck/internal/cli"

func main() {
	cli.Execute()
}
