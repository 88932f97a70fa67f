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

// Package store persists reservations and slices in a bbolt file, one
// CBOR-encoded property map per record, and replays them into a kernel
// on restart.
package store

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/renlab/orca/res"
)

var (
	slicesBucket       = []byte("slices")
	reservationsBucket = []byte("reservations")
)

// Bolt is the bbolt-backed kernel database.
type Bolt struct {
	db     *bolt.DB
	logger zerolog.Logger
}

// Open opens or creates the database file.
func Open(filename string, logger zerolog.Logger) (*Bolt, error) {
	db, err := bolt.Open(filename, 0644, &bolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filename, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{slicesBucket, reservationsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Bolt{db: db, logger: logger.With().Str("store", filename).Logger()}, nil
}

// Close closes the database file.
func (s *Bolt) Close() error {
	return s.db.Close()
}

func encode(p res.PropMap) ([]byte, error) {
	return cbor.Marshal(p)
}

func decode(bs []byte) (res.PropMap, error) {
	p := res.PropMap{}
	if err := cbor.Unmarshal(bs, &p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Bolt) put(bucket []byte, key string, p res.PropMap) error {
	bs, err := encode(p)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), bs)
	})
}

func (s *Bolt) delete(bucket []byte, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

// AddReservation writes a reservation record.
func (s *Bolt) AddReservation(r *res.Reservation) error {
	p := res.PropMap{}
	r.Save(p, "")
	return s.put(reservationsBucket, r.ID(), p)
}

// UpdateReservation rewrites a reservation record.  Records are whole
// property maps, so add and update are the same write.
func (s *Bolt) UpdateReservation(r *res.Reservation) error {
	return s.AddReservation(r)
}

// RemoveReservation deletes a reservation record.
func (s *Bolt) RemoveReservation(id string) error {
	return s.delete(reservationsBucket, id)
}

// AddSlice writes a slice record.
func (s *Bolt) AddSlice(sl *res.Slice) error {
	p := res.PropMap{}
	res.SaveSlice(p, "", sl)
	return s.put(slicesBucket, sl.ID(), p)
}

// RemoveSlice deletes a slice record.
func (s *Bolt) RemoveSlice(id string) error {
	return s.delete(slicesBucket, id)
}

// each walks a bucket's decoded property maps.
func (s *Bolt) each(bucket []byte, f func(p res.PropMap) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(k, v []byte) error {
			p, err := decode(v)
			if err != nil {
				return fmt.Errorf("record %q: %w", k, err)
			}
			return f(p)
		})
	})
}
