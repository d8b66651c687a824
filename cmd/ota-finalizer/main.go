package main

import "github.com/oshokin/ota-finalizer/cmd/ota-finalizer/cmd"

func main() {
	cmd.Execute()
}
