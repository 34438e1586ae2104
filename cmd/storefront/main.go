package main

import "github.com/storefront/storefront/internal/cli"

func main() {
	cli.Execute()
}
