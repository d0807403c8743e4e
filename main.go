// Command alorg builds, tests and deploys containerised web apps.
package main

import "alorg/internal/cli"

func main() {
	cli.Execute()
}
