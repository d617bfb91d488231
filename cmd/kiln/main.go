package main

import "github.com/kiln-ml/kiln/internal/cli"

func main() {
	cli.Execute()
}
