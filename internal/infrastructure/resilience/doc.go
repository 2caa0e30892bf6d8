/*
Package resilience keeps a crashing backend from restarting in a tight loop.

A Guard is a circuit breaker over backend runs rather than calls. Every
run is admitted with Acquire and reported with Finish once it ends: a run
is healthy when it stayed up long enough, faulted otherwise.

	guard := resilience.New("pcsc-backend", resilience.Settings{
		Cooldown: 30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFaulted >= 3
		},
	})

	attempt, err := guard.Acquire()
	if errors.Is(err, resilience.ErrCircuitOpen) {
		time.Sleep(guard.RetryAfter())
	}
	...
	attempt.Finish(uptime > stableAfter)

# States

	Closed --[faults]-> Open --[cooldown]-> Half-Open --[healthy trials]-> Closed
	                                           |
	                                        [fault]
	                                           |
	                                           v
	                                         Open
*/
package resilience
