// Package clock indirects time.Now() so tests can freeze time.
package clock

import "time"

// Now returns the current time. Tests may swap it out.
var Now = time.Now
