// Command appsec-gate runs the application security gateway.
package main

import "github.com/Sentinel-Gate/appsec-gate/cmd/appsec-gate/cmd"

func main() {
	cmd.Execute()
}
