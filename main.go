package main

import (
	"github.com/inferd/inferd/cmd"
)

func main() {
	cmd.Execute()
}
