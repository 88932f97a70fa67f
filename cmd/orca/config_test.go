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
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, src string) string {
	t.Helper()
	filename := filepath.Join(t.TempDir(), "orca.yaml")
	if err := os.WriteFile(filename, []byte(src), 0644); err != nil {
		t.Fatal(err)
	}
	return filename
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
actors:
  - name: broker-1
    role: broker
    inventory: {type: vm, units: 100}
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":8080" {
		t.Fatalf("listen %q", cfg.Listen)
	}
	if cfg.Transport.Kind != "local" {
		t.Fatalf("transport %q", cfg.Transport.Kind)
	}
	if cfg.RPCTimeout != Duration(30*time.Second) {
		t.Fatalf("rpc timeout %s", time.Duration(cfg.RPCTimeout))
	}
}

func TestLoadConfigFull(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
listen: ":9000"
dataDir: /tmp/orca
clock: "*/5 * * * * * *"
rpcTimeout: 5s
transport:
  kind: mqtt
  mqtt:
    broker: tcp://localhost:1883
    clientID: orca-1
actors:
  - name: broker-1
    role: broker
    inventory: {type: vm, units: 100, deferOnShortage: true}
  - name: site-1
    role: authority
    inventory: {type: vm, units: 50}
  - name: ctrl-1
    role: client
    broker: broker-1
    authority: site-1
    requests:
      - {units: 4, term: 1h, redeem: true}
`))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Actors) != 3 {
		t.Fatalf("%d actors", len(cfg.Actors))
	}
	if !cfg.Actors[0].Inventory.DeferOnShortage {
		t.Fatal("deferOnShortage not parsed")
	}
	if cfg.Actors[2].Requests[0].Term != Duration(time.Hour) {
		t.Fatalf("term %s", time.Duration(cfg.Actors[2].Requests[0].Term))
	}
	if cfg.RPCTimeout != Duration(5*time.Second) {
		t.Fatalf("rpc timeout %s", time.Duration(cfg.RPCTimeout))
	}
}

func TestLoadConfigRejectsBadActors(t *testing.T) {
	for _, src := range []string{
		`actors: []`,
		"actors:\n  - name: x\n    role: wizard",
		"actors:\n  - name: x\n    role: broker",
		"actors:\n  - name: x\n    role: client",
		"actors:\n  - {name: x, role: broker, inventory: {type: vm, units: 1}}\n  - {name: x, role: broker, inventory: {type: vm, units: 1}}",
	} {
		if _, err := LoadConfig(writeConfig(t, src)); err == nil {
			t.Errorf("config accepted: %s", src)
		}
	}
}
