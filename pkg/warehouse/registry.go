package warehouse

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lanewise-ai/lanewise-engine/pkg/config"
)

// DriverFactory opens an Executor for a configured warehouse.
type DriverFactory func(ctx context.Context, cfg *config.WarehouseConfig) (Executor, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]DriverFactory)
)

// RegisterDriver is called by each driver's init() function.
// Thread-safe for concurrent init() calls.
func RegisterDriver(name string, factory DriverFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[name] = factory
}

// RegisteredDrivers returns the names of all compiled-in drivers, sorted.
func RegisteredDrivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open connects to the warehouse named by cfg.Driver.
func Open(ctx context.Context, cfg *config.WarehouseConfig) (Executor, error) {
	driversMu.RLock()
	factory, ok := drivers[cfg.Driver]
	driversMu.RUnlock()

	if !ok {
		compiled := strings.Join(RegisteredDrivers(), ", ")
		if compiled == "" {
			compiled = "none"
		}
		return nil, fmt.Errorf("unknown warehouse driver %q (compiled in: %s)", cfg.Driver, compiled)
	}
	return factory(ctx, cfg)
}
