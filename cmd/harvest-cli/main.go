package main

import (
	"docharvest/cmd/harvest-cli/commands"
	"docharvest/lib/serviceutil"
)

func main() {
	commands.ExecuteContext(serviceutil.SignalContext())
}
