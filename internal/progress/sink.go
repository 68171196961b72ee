package progress

import "github.com/acme/catalog-importer/internal/task"

// Sink consumes every task snapshot that passes through the broadcaster.
// Implementations must not block; they run on the store's mutation path.
type Sink interface {
	Consume(snap task.Snapshot)
}
