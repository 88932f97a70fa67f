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

package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/renlab/orca/policy"
	"github.com/renlab/orca/rpc"
)

// Duration adds "30s"-style YAML parsing to time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config is the process configuration: which actors run here, how they
// reach each other, and where they keep their state.
type Config struct {
	// Listen is the management API address.
	Listen string `yaml:"listen"`

	// DataDir holds one bbolt file per actor.
	DataDir string `yaml:"dataDir"`

	// Clock is a cron expression driving the shared cycle clock.
	Clock string `yaml:"clock"`

	// RPCTimeout bounds each outbound call before a failure is
	// synthesized.
	RPCTimeout Duration `yaml:"rpcTimeout"`

	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`

	Transport struct {
		// Kind is "local" (in-process) or "mqtt".
		Kind string         `yaml:"kind"`
		MQTT rpc.MQTTConfig `yaml:"mqtt"`
	} `yaml:"transport"`

	Actors []ActorConfig `yaml:"actors"`
}

// ActorConfig describes one actor in this process.
type ActorConfig struct {
	Name string `yaml:"name"`

	// Role is "client", "broker", or "authority".
	Role string `yaml:"role"`

	// Inventory configures the serving pool; ignored for clients.
	Inventory policy.InventoryConfig `yaml:"inventory"`

	// PolicyScript optionally gates the pool with an ECMAScript
	// admission function loaded from this file.
	PolicyScript string `yaml:"policyScript"`

	// Broker and Authority name the peers a client talks to.
	Broker    string `yaml:"broker"`
	Authority string `yaml:"authority"`

	// Requests are negotiations a client starts at boot.
	Requests []RequestConfig `yaml:"requests"`
}

// RequestConfig is one boot-time client request.
type RequestConfig struct {
	Type  string   `yaml:"type"`
	Units int      `yaml:"units"`
	Term  Duration `yaml:"term"`

	// Redeem converts the ticket into a lease as soon as it is held.
	Redeem bool `yaml:"redeem"`
}

// LoadConfig reads and validates the YAML config file.
func LoadConfig(filename string) (*Config, error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(bs, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filename, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.DataDir == "" {
		c.DataDir = "."
	}
	if c.Clock == "" {
		// Every ten seconds.
		c.Clock = "*/10 * * * * * *"
	}
	if c.RPCTimeout == 0 {
		c.RPCTimeout = Duration(30 * time.Second)
	}
	if c.Transport.Kind == "" {
		c.Transport.Kind = "local"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) validate() error {
	if len(c.Actors) == 0 {
		return fmt.Errorf("no actors configured")
	}
	seen := map[string]bool{}
	for _, a := range c.Actors {
		if a.Name == "" {
			return fmt.Errorf("actor without a name")
		}
		if seen[a.Name] {
			return fmt.Errorf("duplicate actor %q", a.Name)
		}
		seen[a.Name] = true
		switch a.Role {
		case "broker", "authority":
			if a.Inventory.Type == "" || a.Inventory.Units <= 0 {
				return fmt.Errorf("actor %q: serving role needs an inventory", a.Name)
			}
		case "client":
			if a.Broker == "" {
				return fmt.Errorf("actor %q: client needs a broker", a.Name)
			}
		default:
			return fmt.Errorf("actor %q: unknown role %q", a.Name, a.Role)
		}
	}
	switch c.Transport.Kind {
	case "local":
	case "mqtt":
		if c.Transport.MQTT.Broker == "" {
			return fmt.Errorf("mqtt transport needs a broker URL")
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport.Kind)
	}
	return nil
}
