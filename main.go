package main

import "github.com/VanDung-dev/arrow-wasm-ffi/cmd/arrowffi/cmd"

// Running the module root behaves like cmd/arrowffi.
func main() {
	cmd.Execute()
}
