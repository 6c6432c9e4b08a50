package main

import "github.com/andresmejia3/voucherscan/cmd"

func main() {
	cmd.Execute()
}
