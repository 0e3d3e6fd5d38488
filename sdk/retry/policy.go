// Copyright 2025 The Evergreen Dragon OS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package retry decides whether a failed activity attempt is retried and
// how long to wait before the next attempt.
package retry

import (
	"errors"
	"fmt"
	"math"
	"time"
)

type Backoff string

const (
	// Linear waits BaseDelay * attempt.
	Linear Backoff = "linear"
	// Exponential waits BaseDelay * 2^(attempt-1).
	Exponential Backoff = "exponential"
)

type Policy struct {
	// Maximum number of attempts, the first one included. Must be at least 1.
	MaxAttempts int

	// Delay unit the backoff curve is built from.
	BaseDelay time.Duration

	Backoff Backoff

	// Cap on a single delay. Zero leaves delays uncapped.
	MaxDelay time.Duration

	// ShouldRetry, when set, replaces the default classification
	// (retryable unless IsFatal). It is never consulted once
	// attempts are exhausted.
	ShouldRetry func(err error) bool
}

// Classified is implemented by errors that carry their own retry
// classification, such as the activity error types.
type Classified interface {
	error
	Fatal() bool
}

// IsFatal reports whether any error in err's chain is classified fatal.
// A fatal classification wins over a retryable one wrapped around it.
func IsFatal(err error) bool {
	for err != nil {
		if c, ok := err.(Classified); ok && c.Fatal() {
			return true
		}
		switch u := err.(type) {
		case interface{ Unwrap() error }:
			err = u.Unwrap()
		case interface{ Unwrap() []error }:
			for _, e := range u.Unwrap() {
				if IsFatal(e) {
					return true
				}
			}
			return false
		default:
			return false
		}
	}
	return false
}

type Decision struct {
	Retry bool
	Delay time.Duration
}

// Default mirrors the activity defaults used by the saga definitions:
// three attempts, one second apart, doubling.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Backoff:     Exponential,
	}
}

// Decide is called after attempt (1-based) failed with err.
func (p Policy) Decide(attempt int, err error) Decision {
	if attempt >= p.MaxAttempts {
		return Decision{}
	}

	retryable := !IsFatal(err)
	if p.ShouldRetry != nil {
		retryable = p.ShouldRetry(err)
	}
	if !retryable {
		return Decision{}
	}

	return Decision{Retry: true, Delay: p.Delay(attempt)}
}

// Delay is the wait that follows the given failed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var delay time.Duration
	switch p.Backoff {
	case Linear:
		delay = scale(p.BaseDelay, int64(attempt))
	case Exponential:
		shift := attempt - 1
		if shift >= 62 {
			delay = scale(p.BaseDelay, math.MaxInt64)
		} else {
			delay = scale(p.BaseDelay, int64(1)<<shift)
		}
	default:
		delay = p.BaseDelay
	}

	if delay < 0 {
		delay = 0
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// scale multiplies d by n, saturating at the largest Duration.
func scale(d time.Duration, n int64) time.Duration {
	if d <= 0 || n <= 0 {
		return 0
	}
	if int64(d) > math.MaxInt64/n {
		return time.Duration(math.MaxInt64)
	}
	return d * time.Duration(n)
}

func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("base delay must not be negative, got %s", p.BaseDelay)
	}
	if p.MaxDelay < 0 {
		return fmt.Errorf("max delay must not be negative, got %s", p.MaxDelay)
	}
	switch p.Backoff {
	case Linear, Exponential:
	default:
		return fmt.Errorf("unknown backoff %q", p.Backoff)
	}
	return nil
}

// ParseBackoff accepts the configuration spelling of a backoff curve.
func ParseBackoff(s string) (Backoff, error) {
	switch Backoff(s) {
	case Linear, Exponential:
		return Backoff(s), nil
	case "":
		return Exponential, nil
	default:
		return "", fmt.Errorf("unknown backoff %q", s)
	}
}
