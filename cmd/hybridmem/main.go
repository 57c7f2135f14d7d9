// Command hybridmem replays memory access traces on a hybrid DRAM/NVM
// controller.
package main

import "github.com/sarchlab/hybridmem/cmd/hybridmem/cmd"

func main() {
	cmd.Execute()
}
