package workers

import (
	"os"
	"runtime"
	"strconv"
)

// DefaultMaxWorkers caps the pool when nothing else is configured.
const DefaultMaxWorkers = 4

// OverrideEnv pins the default pool cap.
const OverrideEnv = "ANALYZER_WORKERS"

// Default returns the pool cap used when no positive maximum is
// configured: ANALYZER_WORKERS when it holds a positive integer, otherwise
// two workers per usable CPU, capped at DefaultMaxWorkers.
func Default() int {
	if n, err := strconv.Atoi(os.Getenv(OverrideEnv)); err == nil && n > 0 {
		return n
	}
	return min(2*runtime.GOMAXPROCS(0), DefaultMaxWorkers)
}

// PoolSize returns min(maxWorkers, items), never less than 1. A
// non-positive maxWorkers falls back to Default.
func PoolSize(maxWorkers, items int) int {
	if maxWorkers <= 0 {
		maxWorkers = Default()
	}
	return max(1, min(maxWorkers, items))
}
