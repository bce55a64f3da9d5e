package state

import "time"

// now is indirected so tests can deterministically override timestamps.
var now = time.Now
