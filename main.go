// packet-sniffer captures traffic for a fixed, pausable duration and reports
// it as a table of TCP and UDP connections.
package main

import "github.com/MatteoGuarna/packet-sniffer/cmd"

func main() {
	cmd.Execute()
}
