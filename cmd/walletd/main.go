package main

import "github.com/vietddude/walletd/internal/cli"

func main() {
	cli.Execute()
}
