package main

import "github.com/VanDung-dev/arrow-wasm-ffi/cmd/arrowffi/cmd"

func main() {
	cmd.Execute()
}
