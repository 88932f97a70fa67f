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

package mgmt

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/renlab/orca/actor"
	"github.com/renlab/orca/kernel"
)

// Server is the management HTTP API.  Reads and writes against kernel
// state go through each actor's ExecuteAndWait, so the API never races
// the actor loops.
type Server struct {
	feed   *Feed
	logger zerolog.Logger

	mu     sync.Mutex
	actors map[string]*actor.Actor
	gather prometheus.Gatherers

	http *http.Server
}

// NewServer makes a server listening on addr once Run is called.
func NewServer(addr string, feed *Feed, logger zerolog.Logger) *Server {
	s := &Server{
		feed:   feed,
		logger: logger.With().Str("mgmt", addr).Logger(),
		actors: map[string]*actor.Actor{},
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(&s.gather, promhttp.HandlerOpts{})))
	engine.GET("/actors", s.listActors)
	engine.GET("/actors/:name/reservations", s.listReservations)
	engine.GET("/actors/:name/reservations/:id", s.getReservation)
	engine.POST("/actors/:name/reservations/:id/close", s.closeReservation)
	engine.GET("/actors/:name/slices", s.listSlices)
	if feed != nil {
		engine.GET("/events", func(c *gin.Context) {
			feed.serve(c.Writer, c.Request)
		})
	}

	s.http = &http.Server{Addr: addr, Handler: engine}
	return s
}

// Register adds an actor and its metrics registry to the API.
func (s *Server) Register(a *actor.Actor, registry *prometheus.Registry) {
	s.mu.Lock()
	s.actors[a.Name()] = a
	if registry != nil {
		s.gather = append(s.gather, registry)
	}
	s.mu.Unlock()
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info().Msg("management api listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the underlying mux for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) actor(name string) (*actor.Actor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, have := s.actors[name]
	return a, have
}

type actorInfo struct {
	Name         string `json:"name"`
	Role         string `json:"role"`
	Cycle        int64  `json:"cycle"`
	Reservations int    `json:"reservations"`
}

func (s *Server) listActors(c *gin.Context) {
	s.mu.Lock()
	names := make([]string, 0, len(s.actors))
	for name := range s.actors {
		names = append(names, name)
	}
	s.mu.Unlock()
	sort.Strings(names)

	acc := make([]actorInfo, 0, len(names))
	for _, name := range names {
		a, _ := s.actor(name)
		v, err := a.Runtime().ExecuteAndWait(func() (interface{}, error) {
			return actorInfo{
				Name:         a.Name(),
				Role:         a.Role().String(),
				Cycle:        a.LastCycle(),
				Reservations: a.Kernel().Count(),
			}, nil
		})
		if err != nil {
			continue
		}
		acc = append(acc, v.(actorInfo))
	}
	c.JSON(http.StatusOK, acc)
}

func (s *Server) listReservations(c *gin.Context) {
	a, have := s.actor(c.Param("name"))
	if !have {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such actor"})
		return
	}
	v, err := a.Runtime().ExecuteAndWait(func() (interface{}, error) {
		return a.Kernel().Reservations(), nil
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) getReservation(c *gin.Context) {
	a, have := s.actor(c.Param("name"))
	if !have {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such actor"})
		return
	}
	id := c.Param("id")
	v, err := a.Runtime().ExecuteAndWait(func() (interface{}, error) {
		r, err := a.Kernel().Get(id)
		if err != nil {
			return nil, err
		}
		return kernel.Snapshot(r), nil
	})
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) closeReservation(c *gin.Context) {
	a, have := s.actor(c.Param("name"))
	if !have {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such actor"})
		return
	}
	id := c.Param("id")
	_, err := a.Runtime().ExecuteAndWait(func() (interface{}, error) {
		r, err := a.Kernel().Get(id)
		if err != nil {
			return nil, err
		}
		return nil, a.Kernel().Close(r)
	})
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closing"})
}

func (s *Server) listSlices(c *gin.Context) {
	a, have := s.actor(c.Param("name"))
	if !have {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such actor"})
		return
	}
	v, err := a.Runtime().ExecuteAndWait(func() (interface{}, error) {
		return a.Kernel().Slices(), nil
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, v)
}
