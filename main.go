package main

import "price-oracle/cmd"

func main() {
	cmd.Execute()
}
