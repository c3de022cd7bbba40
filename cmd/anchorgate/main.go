package main

import "github.com/vietddude/anchorgate/internal/cli"

func main() {
	cli.Execute()
}
