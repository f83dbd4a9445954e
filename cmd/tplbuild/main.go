package main

import (
	"github.com/msg555/tplbuild/cmd/tplbuild/cmd"
)

func main() {
	cmd.Execute()
}
