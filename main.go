package main

import "slot-booking/cli"

func main() {
	cli.Execute()
}
