/*
Package workers sizes the bounded analyzer pool.

Analyzer work is dominated by network round trips, so the default cap
scales with the CPUs the process may use (runtime.GOMAXPROCS, which
honours container CPU limits) and is then clamped to DefaultMaxWorkers.
The caption and vision-language services behind the pool are usually a
single GPU box, and wider fan-out only turns into upstream 429s.

	size := workers.PoolSize(cfg.MaxWorkers, len(files))

ANALYZER_WORKERS pins the default cap. An explicit MAX_WORKERS or
--workers value is passed as maxWorkers and wins over it.
*/
package workers
