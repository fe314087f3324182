// Package memory keeps large batches inside a container's memory limit.
//
// [ConfigureFromEnv] derives GOMEMLIMIT from MEMORY_LIMIT and MEMORY_RATIO
// when GOMEMLIMIT itself is not set. Decoding full-resolution images is the
// dominant allocation in an analysis run, so the run command calls it
// before anything else.
//
// [Monitor] samples the heap and pauses the dispatch of new files once
// usage crosses the critical water mark. Files already in flight finish;
// dispatch resumes when usage drops below the high water mark:
//
//	mon := memory.NewMonitor(memory.DefaultConfig(), log)
//	go mon.Run(ctx)
//	...
//	if err := mon.Wait(ctx); err != nil {
//		return err
//	}
//	defer mon.Done()
//
// While paused, each sample forces a collection before reading the heap,
// and a blocked Wait re-samples with a back-off. If nothing is in flight
// the monitor resumes even above the high water mark, since no running
// work is left to free memory.
package memory
