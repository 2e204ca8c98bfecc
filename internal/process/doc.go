// Package process supervises a restartable unit of work.
//
// The ingestion pass is long-running and exposed to upstream rate limits and
// outages. A Supervisor runs it until it reports success, cooling down
// between failed attempts:
//
//	sup := process.NewSupervisor("ingest", process.Policy{
//	    Cooldown:    30 * time.Minute,
//	    Multiplier:  1,
//	    MaxAttempts: 0, // unlimited
//	})
//	sup.SetLogger(logger)
//
//	err := sup.Run(ctx, ingestor.RunOnce)
//
// Panics inside the work function are recovered and treated as a failed
// attempt. Cancelling ctx stops the supervisor during work or cooldown.
package process
