// Command local serves one function with the Functions Framework. The
// function is chosen by FUNCTION_TARGET, which must be set before start
// because each package registers itself in init.
package main

import (
	"log/slog"
	"os"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"

	_ "github.com/desirelines/pipeline/functions/aggregator"
	_ "github.com/desirelines/pipeline/functions/apigateway"
	_ "github.com/desirelines/pipeline/functions/dispatcher"
	_ "github.com/desirelines/pipeline/functions/warehouse-sync"
)

func main() {
	target := os.Getenv("FUNCTION_TARGET")
	if target == "" {
		slog.Error("FUNCTION_TARGET is required (Aggregate, SyncWarehouse, DispatchWebhook or ServeAPI)")
		os.Exit(2)
	}

	port := "8080"
	if envPort := os.Getenv("PORT"); envPort != "" {
		port = envPort
	}

	slog.Info("Starting local function", "target", target, "port", port)
	if err := funcframework.Start(port); err != nil {
		slog.Error("funcframework.Start failed", "error", err)
		os.Exit(1)
	}
}
