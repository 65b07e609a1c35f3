package main

import (
	"landrecords-backend/cmd/countyscrape-cli/commands"
	"landrecords-backend/lib/serviceutil"
	"landrecords-backend/lib/telemetry"
)

func main() {
	ctx := serviceutil.SignalContext()
	telemetry.SetupFromEnv(ctx, "countyscrape-cli")
	telemetry.InitSlog(true)
	telemetry.InstrumentPerfStats(ctx)
	commands.ExecuteContext(ctx)
}
