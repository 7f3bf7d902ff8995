// Command silverback runs a reference host process that wires the
// message-integration core (producer/consumer pipelines, transactional
// outbox, offset store, distributed lock) into one running process. The
// library itself has no CLI surface; this binary exists to exercise it end
// to end against a real broker and database.
package main

import (
	"context"
	"time"

	"github.com/silverbackgo/silverback/internal/app"
)

func main() {
	application := app.New()    // Initialize the application
	wait := application.Start() // Start the application and wait for the termination signal
	<-wait                      // Wait for the application to receive a termination signal
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	application.Stop(ctx) // Stop the application gracefully
}
