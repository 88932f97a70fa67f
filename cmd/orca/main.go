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

// Command orca runs a set of leasing actors: brokers handing out
// tickets against inventory pools, authorities redeeming tickets into
// leases, and controllers driving negotiations.  Actors in one process
// talk through an in-process transport; processes federate through an
// MQTT broker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/renlab/orca/actor"
	"github.com/renlab/orca/kernel"
	"github.com/renlab/orca/metrics"
	"github.com/renlab/orca/mgmt"
	"github.com/renlab/orca/policy"
	"github.com/renlab/orca/res"
	"github.com/renlab/orca/rpc"
	"github.com/renlab/orca/store"
)

func main() {
	var (
		configFile = flag.StringP("config", "c", "orca.yaml", "Config file")
		listen     = flag.String("listen", "", "Management API address (overrides config)")
		logLevel   = flag.String("log-level", "", "Log level (overrides config)")
	)
	flag.Parse()

	cfg, err := LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("exiting")
	}
}

func newLogger(cfg *Config) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("log level %q: %w", cfg.Log.Level, err)
	}
	var out = os.Stderr
	logger := zerolog.New(out).With().Timestamp().Logger().Level(level)
	if cfg.Log.Pretty {
		logger = logger.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen})
	}
	return logger, nil
}

// runningActor bundles everything one actor owns.
type runningActor struct {
	cfg     ActorConfig
	a       *actor.Actor
	db      *store.Bolt
	metrics *metrics.Set
}

func run(cfg *Config, logger zerolog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tr, err := newTransport(cfg, logger)
	if err != nil {
		return err
	}
	defer tr.Close()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return err
	}

	clock, err := actor.NewClock(cfg.Clock, logger)
	if err != nil {
		return fmt.Errorf("clock schedule: %w", err)
	}

	feed := mgmt.NewFeed(logger)
	api := mgmt.NewServer(cfg.Listen, feed, logger)

	var running []*runningActor
	defer func() {
		for _, ra := range running {
			ra.a.Stop()
			if ra.db != nil {
				ra.db.Close()
			}
		}
	}()

	for _, ac := range cfg.Actors {
		ra, err := startActor(cfg, ac, tr, feed, logger)
		if err != nil {
			return fmt.Errorf("actor %q: %w", ac.Name, err)
		}
		running = append(running, ra)
		clock.Register(ra.a)
		api.Register(ra.a, ra.metrics.Registry)
	}

	go clock.Run(ctx)
	go func() {
		if err := api.Run(); err != nil {
			logger.Error().Err(err).Msg("management api")
			cancel()
		}
	}()

	logger.Info().Int("actors", len(running)).Str("listen", cfg.Listen).Msg("up")
	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := api.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("api shutdown")
	}
	return nil
}

func newTransport(cfg *Config, logger zerolog.Logger) (rpc.Transport, error) {
	switch cfg.Transport.Kind {
	case "mqtt":
		return rpc.NewMQTT(cfg.Transport.MQTT, logger)
	default:
		return rpc.NewLocal(), nil
	}
}

func startActor(cfg *Config, ac ActorConfig, tr rpc.Transport, feed *mgmt.Feed, logger zerolog.Logger) (*runningActor, error) {
	log := logger.With().Str("actor", ac.Name).Logger()
	role, err := res.ParseRole(ac.Role)
	if err != nil {
		return nil, err
	}

	m := metrics.New(ac.Name)
	rt := actor.NewRuntime(ac.Name, log, m)

	db, err := store.Open(filepath.Join(cfg.DataDir, ac.Name+".db"), log)
	if err != nil {
		return nil, err
	}

	pol, err := newPolicy(ac, role, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	k := kernel.New(db, feed.Listener(ac.Name), log, m)
	a := actor.New(ac.Name, role, rt, k, pol, log)

	deps := res.Deps{Policy: pol, Logger: log}
	err = db.Revisit(k, deps, func(identity string) res.Callback {
		if role == res.RoleClient {
			return rpc.NewPeerProxy(identity, log)
		}
		return rpc.NewRemoteCallback(ac.Name, identity, tr, log)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("revisit: %w", err)
	}

	ra := &runningActor{cfg: ac, a: a, db: db, metrics: m}

	var monitor *rpc.Monitor
	var req *rpc.Requester
	if role == res.RoleClient {
		monitor = rpc.NewMonitor(rt, rpc.KernelSink(a, log), time.Duration(cfg.RPCTimeout), log)
		req = rpc.NewRequester(ac.Name, ac.Broker, ac.Authority, tr, monitor, k, log)

		// redeem is touched only on the actor thread.
		redeem := map[string]bool{}
		a.TickHook = func(cycle int64) {
			for id := range redeem {
				r, err := k.Get(id)
				if err != nil || r.IsTerminal() {
					delete(redeem, id)
					continue
				}
				if r.State() == res.Ticketed && !r.HasPending() {
					delete(redeem, id)
					if err := req.Redeem(r); err != nil {
						log.Warn().Err(err).Str("rsv", id).Msg("redeem")
					}
				}
			}
		}
		defer submitBootRequests(a, req, ac, redeem, log)
	}

	svc := rpc.NewService(ac.Name, a, tr, monitor, log)
	a.Start()
	if err := svc.Start(); err != nil {
		a.Stop()
		db.Close()
		return nil, err
	}
	return ra, nil
}

// submitBootRequests starts the negotiations configured for a client
// actor.  Tickets go out immediately; redemption happens from the tick
// hook once each ticket is held.
func submitBootRequests(a *actor.Actor, req *rpc.Requester, ac ActorConfig, redeem map[string]bool, log zerolog.Logger) {
	for _, rc := range ac.Requests {
		rc := rc
		_, err := a.Runtime().ExecuteAndWait(func() (interface{}, error) {
			kind := rc.Type
			if kind == "" {
				kind = "vm"
			}
			term := time.Duration(rc.Term)
			if term == 0 {
				term = time.Hour
			}
			slice := res.NewSlice(ac.Name, res.ClientSlice)
			r := res.NewClientReservation(slice,
				res.NewUnitSet(kind, rc.Units), res.NewTerm(term),
				res.Deps{Logger: log})
			if err := a.Kernel().RegisterSlice(slice); err != nil {
				return nil, err
			}
			if err := a.Kernel().Register(r); err != nil {
				return nil, err
			}
			if rc.Redeem {
				redeem[r.ID()] = true
			}
			return nil, req.Ticket(r)
		})
		if err != nil {
			log.Warn().Err(err).Int("units", rc.Units).Msg("boot request")
		}
	}
}

func newPolicy(ac ActorConfig, role res.Role, log zerolog.Logger) (res.Policy, error) {
	if role == res.RoleClient {
		return nil, nil
	}
	pool := policy.NewInventory(ac.Inventory, log)
	if ac.PolicyScript == "" {
		return pool, nil
	}
	src, err := os.ReadFile(ac.PolicyScript)
	if err != nil {
		return nil, err
	}
	return policy.NewScript(string(src), pool, log)
}
