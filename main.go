// The main package for the autoharvest executable.
package main

import "github.com/JakeFAU/autoharvest/cmd"

func main() {
	cmd.Execute()
}
