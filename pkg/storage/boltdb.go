package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/burrow/pkg/keyalloc"
	"github.com/cuemby/burrow/pkg/types"
)

// BoltStore implements Store on a local BoltDB file. Every table is a
// bucket holding JSON records keyed by name.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database file at path
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// Another process holding the file lock makes Open fail after the
	// timeout instead of blocking forever.
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, table := range Tables {
			if _, err := tx.CreateBucketIfNotExists([]byte(table)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Setup drops and recreates every bucket
func (s *BoltStore) Setup(ctx context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, table := range Tables {
			if err := tx.DeleteBucket([]byte(table)); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
				return fmt.Errorf("failed to drop bucket %s: %w", table, err)
			}
			if _, err := tx.CreateBucket([]byte(table)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", table, err)
			}
		}
		return nil
	})
}

func boltGet(tx *bolt.Tx, table, key string, v interface{}) error {
	data := tx.Bucket([]byte(table)).Get([]byte(key))
	if data == nil {
		return fmt.Errorf("%s %s: %w", table, key, ErrNotFound)
	}
	return json.Unmarshal(data, v)
}

func boltPut(tx *bolt.Tx, table, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Bucket([]byte(table)).Put([]byte(key), data)
}

func boltCreate(tx *bolt.Tx, table, key string, v interface{}) error {
	if tx.Bucket([]byte(table)).Get([]byte(key)) != nil {
		return fmt.Errorf("%s %s: %w", table, key, ErrAlreadyExists)
	}
	return boltPut(tx, table, key, v)
}

func boltUpdate(tx *bolt.Tx, table, key string, v interface{}) error {
	if tx.Bucket([]byte(table)).Get([]byte(key)) == nil {
		return fmt.Errorf("%s %s: %w", table, key, ErrNotFound)
	}
	return boltPut(tx, table, key, v)
}

func boltDelete(tx *bolt.Tx, table, key string) error {
	return tx.Bucket([]byte(table)).Delete([]byte(key))
}

func boltList[T any](tx *bolt.Tx, table string) ([]*T, error) {
	var res []*T
	err := tx.Bucket([]byte(table)).ForEach(func(k, v []byte) error {
		var item T
		if err := json.Unmarshal(v, &item); err != nil {
			return fmt.Errorf("%s %s: %w", table, k, err)
		}
		res = append(res, &item)
		return nil
	})
	return res, err
}

// Chassis operations
func (s *BoltStore) GetChassis(ctx context.Context, name string) (*types.Chassis, error) {
	var chassis types.Chassis
	err := s.db.View(func(tx *bolt.Tx) error {
		return boltGet(tx, TableChassis, name, &chassis)
	})
	if err != nil {
		return nil, err
	}
	return &chassis, nil
}

func (s *BoltStore) ListChassis(ctx context.Context) ([]*types.Chassis, error) {
	var res []*types.Chassis
	err := s.db.View(func(tx *bolt.Tx) (err error) {
		res, err = boltList[types.Chassis](tx, TableChassis)
		return err
	})
	return res, err
}

func (s *BoltStore) AddChassis(ctx context.Context, chassis *types.Chassis) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return boltPut(tx, TableChassis, chassis.Name, chassis)
	})
}

func (s *BoltStore) DeleteChassis(ctx context.Context, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return boltDelete(tx, TableChassis, name)
	})
}

// Logical switch operations
func (s *BoltStore) CreateLogicalSwitch(ctx context.Context, lswitch *types.LogicalSwitch) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return boltCreate(tx, TableLSwitch, lswitch.Name, lswitch)
	})
}

func (s *BoltStore) GetLogicalSwitch(ctx context.Context, name string) (*types.LogicalSwitch, error) {
	var lswitch types.LogicalSwitch
	err := s.db.View(func(tx *bolt.Tx) error {
		return boltGet(tx, TableLSwitch, name, &lswitch)
	})
	if err != nil {
		return nil, err
	}
	return &lswitch, nil
}

func (s *BoltStore) ListLogicalSwitches(ctx context.Context) ([]*types.LogicalSwitch, error) {
	var res []*types.LogicalSwitch
	err := s.db.View(func(tx *bolt.Tx) (err error) {
		res, err = boltList[types.LogicalSwitch](tx, TableLSwitch)
		return err
	})
	return res, err
}

func (s *BoltStore) UpdateLogicalSwitch(ctx context.Context, lswitch *types.LogicalSwitch) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return boltUpdate(tx, TableLSwitch, lswitch.Name, lswitch)
	})
}

func (s *BoltStore) DeleteLogicalSwitch(ctx context.Context, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return boltDelete(tx, TableLSwitch, name)
	})
}

// Logical port operations
func (s *BoltStore) CreateLogicalPort(ctx context.Context, lport *types.LogicalPort) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return boltCreate(tx, TableLPort, lport.ID, lport)
	})
}

func (s *BoltStore) GetLogicalPort(ctx context.Context, id string) (*types.LogicalPort, error) {
	var lport types.LogicalPort
	err := s.db.View(func(tx *bolt.Tx) error {
		return boltGet(tx, TableLPort, id, &lport)
	})
	if err != nil {
		return nil, err
	}
	return &lport, nil
}

func (s *BoltStore) ListLogicalPorts(ctx context.Context) ([]*types.LogicalPort, error) {
	var res []*types.LogicalPort
	err := s.db.View(func(tx *bolt.Tx) (err error) {
		res, err = boltList[types.LogicalPort](tx, TableLPort)
		return err
	})
	return res, err
}

func (s *BoltStore) UpdateLogicalPort(ctx context.Context, lport *types.LogicalPort) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return boltUpdate(tx, TableLPort, lport.ID, lport)
	})
}

func (s *BoltStore) DeleteLogicalPort(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return boltDelete(tx, TableLPort, id)
	})
}

// Logical router operations
func (s *BoltStore) CreateRouter(ctx context.Context, router *types.LogicalRouter) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return boltCreate(tx, TableLRouter, router.Name, router)
	})
}

func (s *BoltStore) GetRouter(ctx context.Context, name string) (*types.LogicalRouter, error) {
	var router types.LogicalRouter
	err := s.db.View(func(tx *bolt.Tx) error {
		return boltGet(tx, TableLRouter, name, &router)
	})
	if err != nil {
		return nil, err
	}
	return &router, nil
}

func (s *BoltStore) ListRouters(ctx context.Context) ([]*types.LogicalRouter, error) {
	var res []*types.LogicalRouter
	err := s.db.View(func(tx *bolt.Tx) (err error) {
		res, err = boltList[types.LogicalRouter](tx, TableLRouter)
		return err
	})
	return res, err
}

func (s *BoltStore) DeleteRouter(ctx context.Context, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return boltDelete(tx, TableLRouter, name)
	})
}

func (s *BoltStore) AddRouterPort(ctx context.Context, router string, port types.LogicalRouterPort) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var lrouter types.LogicalRouter
		if err := boltGet(tx, TableLRouter, router, &lrouter); err != nil {
			return err
		}
		port.Router = router
		lrouter.Ports = append(lrouter.Ports, port)
		return boltPut(tx, TableLRouter, router, &lrouter)
	})
}

func (s *BoltStore) DeleteRouterPort(ctx context.Context, router, lswitch string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var lrouter types.LogicalRouter
		if err := boltGet(tx, TableLRouter, router, &lrouter); err != nil {
			return err
		}
		if !removeRouterPorts(&lrouter, lswitch) {
			return nil
		}
		return boltPut(tx, TableLRouter, router, &lrouter)
	})
}

// Snapshot reads every table inside a single read transaction
func (s *BoltStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}
	err := s.db.View(func(tx *bolt.Tx) (err error) {
		if snap.Chassis, err = boltList[types.Chassis](tx, TableChassis); err != nil {
			return err
		}
		if snap.Switches, err = boltList[types.LogicalSwitch](tx, TableLSwitch); err != nil {
			return err
		}
		if snap.Ports, err = boltList[types.LogicalPort](tx, TableLPort); err != nil {
			return err
		}
		snap.Routers, err = boltList[types.LogicalRouter](tx, TableLRouter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return snap, nil
}

// ReadCounter returns the tunnel key counter and its version
func (s *BoltStore) ReadCounter(ctx context.Context) (uint64, keyalloc.Version, error) {
	var rec counterRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(TableTunnelKey)).Get([]byte(counterKey))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &rec)
	})
	return rec.Value, keyalloc.Version(rec.Version), err
}

// CompareAndSwapCounter writes next if the counter version is unchanged
func (s *BoltStore) CompareAndSwapCounter(ctx context.Context, version keyalloc.Version, next uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var rec counterRecord
		if data := tx.Bucket([]byte(TableTunnelKey)).Get([]byte(counterKey)); data != nil {
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
		}
		if keyalloc.Version(rec.Version) != version {
			return keyalloc.ErrVersionConflict
		}
		return boltPut(tx, TableTunnelKey, counterKey, counterRecord{
			Value:   next,
			Version: rec.Version + 1,
		})
	})
}
