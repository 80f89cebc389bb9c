package utils

import (
	"math/rand/v2"
	"time"
)

func Must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}

	return v
}

// Jitter returns base plus a uniformly random duration in [0, spread).
func Jitter(base, spread time.Duration) time.Duration {
	if spread <= 0 {
		return base
	}

	return base + rand.N(spread)
}
