/* Copyright 2026 The Orca Authors
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package actor

import (
	"context"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/rs/zerolog"
)

// Ticker is anything that accepts external clock cycles.
type Ticker interface {
	Name() string
	ExternalTick(cycle int64)
}

// Clock hands out monotonically increasing cycles to its registered
// tickers, either on a cron schedule (Run) or manually (AdvanceTo).
// Each ticker replays missed cycles itself, so a slow actor never
// stalls the clock.
type Clock struct {
	mu      sync.Mutex
	cycle   int64
	tickers []Ticker
	expr    *cronexpr.Expression
	logger  zerolog.Logger
}

// NewClock makes a clock.  schedule is a cron expression, or "" for a
// manually driven clock.
func NewClock(schedule string, logger zerolog.Logger) (*Clock, error) {
	c := &Clock{logger: logger}
	if schedule != "" {
		expr, err := cronexpr.Parse(schedule)
		if err != nil {
			return nil, err
		}
		c.expr = expr
	}
	return c, nil
}

// Register adds a ticker.  New tickers start receiving cycles on the
// next advance.
func (c *Clock) Register(t Ticker) {
	c.mu.Lock()
	c.tickers = append(c.tickers, t)
	c.mu.Unlock()
}

// Cycle is the current cycle.
func (c *Clock) Cycle() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cycle
}

// AdvanceTo moves the clock to the given cycle and notifies every
// ticker.  Moving backwards is a no-op.
func (c *Clock) AdvanceTo(cycle int64) {
	c.mu.Lock()
	if cycle <= c.cycle {
		c.mu.Unlock()
		return
	}
	c.cycle = cycle
	tickers := make([]Ticker, len(c.tickers))
	copy(tickers, c.tickers)
	c.mu.Unlock()

	for _, t := range tickers {
		t.ExternalTick(cycle)
	}
}

// Advance moves the clock forward one cycle.
func (c *Clock) Advance() int64 {
	c.mu.Lock()
	cycle := c.cycle + 1
	c.mu.Unlock()
	c.AdvanceTo(cycle)
	return cycle
}

// Run drives the clock on its cron schedule until ctx is done.  It is
// an error to Run a clock constructed without a schedule.
func (c *Clock) Run(ctx context.Context) {
	if c.expr == nil {
		c.logger.Error().Msg("clock has no schedule; not running")
		return
	}
	for {
		next := c.expr.Next(time.Now())
		if next.IsZero() {
			c.logger.Warn().Msg("cron schedule has no next fire time")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
			cycle := c.Advance()
			c.logger.Debug().Int64("cycle", cycle).Msg("clock tick")
		}
	}
}
