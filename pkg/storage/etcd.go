package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/cuemby/burrow/pkg/keyalloc"
	"github.com/cuemby/burrow/pkg/types"
)

// DefaultEtcdPrefix is the key prefix every northbound table lives under
const DefaultEtcdPrefix = "/burrow/nb"

// EtcdConfig holds the etcd backend settings
type EtcdConfig struct {
	Endpoints   []string
	DialTimeout time.Duration
	Prefix      string
}

// EtcdStore implements Store on an etcd cluster shared by all chassis.
// Records are JSON values under <prefix>/<table>/<name>; conditional writes
// compare key revisions.
type EtcdStore struct {
	client *clientv3.Client
	prefix string
}

// NewEtcdStore connects to etcd
func NewEtcdStore(cfg EtcdConfig) (*EtcdStore, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultEtcdPrefix
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		DialOptions: []grpc.DialOption{grpc.WithBlock()},
		Logger:      zap.NewNop(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd %v: %w", cfg.Endpoints, err)
	}

	return NewEtcdStoreWithClient(client, cfg.Prefix), nil
}

// NewEtcdStoreWithClient wraps an existing client
func NewEtcdStoreWithClient(client *clientv3.Client, prefix string) *EtcdStore {
	return &EtcdStore{
		client: client,
		prefix: strings.TrimSuffix(prefix, "/"),
	}
}

// Close closes the etcd client
func (s *EtcdStore) Close() error {
	return s.client.Close()
}

func (s *EtcdStore) tablePrefix(table string) string {
	return s.prefix + "/" + table + "/"
}

func (s *EtcdStore) key(table, name string) string {
	return s.tablePrefix(table) + name
}

// Setup deletes every table's keys. etcd has no tables to create.
func (s *EtcdStore) Setup(ctx context.Context) error {
	_, err := s.client.Delete(ctx, s.prefix+"/", clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("failed to clear northbound tables: %w", err)
	}
	return nil
}

func (s *EtcdStore) get(ctx context.Context, table, name string, v interface{}) (int64, error) {
	resp, err := s.client.Get(ctx, s.key(table, name))
	if err != nil {
		return 0, fmt.Errorf("failed to read %s %s: %w", table, name, err)
	}
	if len(resp.Kvs) == 0 {
		return 0, fmt.Errorf("%s %s: %w", table, name, ErrNotFound)
	}
	if err := json.Unmarshal(resp.Kvs[0].Value, v); err != nil {
		return 0, fmt.Errorf("%s %s: %w", table, name, err)
	}
	return resp.Kvs[0].ModRevision, nil
}

func (s *EtcdStore) put(ctx context.Context, table, name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := s.client.Put(ctx, s.key(table, name), string(data)); err != nil {
		return fmt.Errorf("failed to write %s %s: %w", table, name, err)
	}
	return nil
}

// putIf writes v only when the key's mod revision equals rev (0 = absent).
// It reports whether the comparison held.
func (s *EtcdStore) putIf(ctx context.Context, table, name string, rev int64, v interface{}) (bool, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	key := s.key(table, name)
	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.ModRevision(key), "=", rev)).
		Then(clientv3.OpPut(key, string(data))).
		Commit()
	if err != nil {
		return false, fmt.Errorf("failed to write %s %s: %w", table, name, err)
	}
	return resp.Succeeded, nil
}

func (s *EtcdStore) create(ctx context.Context, table, name string, v interface{}) error {
	ok, err := s.putIf(ctx, table, name, 0, v)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s %s: %w", table, name, ErrAlreadyExists)
	}
	return nil
}

func (s *EtcdStore) update(ctx context.Context, table, name string, v interface{}) error {
	key := s.key(table, name)
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), ">", 0)).
		Then(clientv3.OpPut(key, string(data))).
		Commit()
	if err != nil {
		return fmt.Errorf("failed to write %s %s: %w", table, name, err)
	}
	if !resp.Succeeded {
		return fmt.Errorf("%s %s: %w", table, name, ErrNotFound)
	}
	return nil
}

func (s *EtcdStore) delete(ctx context.Context, table, name string) error {
	if _, err := s.client.Delete(ctx, s.key(table, name)); err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", table, name, err)
	}
	return nil
}

func decodeKVs[T any](table string, kvs []*mvccpb.KeyValue) ([]*T, error) {
	res := make([]*T, 0, len(kvs))
	for _, kv := range kvs {
		var item T
		if err := json.Unmarshal(kv.Value, &item); err != nil {
			return nil, fmt.Errorf("%s %s: %w", table, kv.Key, err)
		}
		res = append(res, &item)
	}
	return res, nil
}

func etcdList[T any](ctx context.Context, s *EtcdStore, table string) ([]*T, error) {
	resp, err := s.client.Get(ctx, s.tablePrefix(table), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	return decodeKVs[T](table, resp.Kvs)
}

// Chassis operations
func (s *EtcdStore) GetChassis(ctx context.Context, name string) (*types.Chassis, error) {
	var chassis types.Chassis
	if _, err := s.get(ctx, TableChassis, name, &chassis); err != nil {
		return nil, err
	}
	return &chassis, nil
}

func (s *EtcdStore) ListChassis(ctx context.Context) ([]*types.Chassis, error) {
	return etcdList[types.Chassis](ctx, s, TableChassis)
}

func (s *EtcdStore) AddChassis(ctx context.Context, chassis *types.Chassis) error {
	return s.put(ctx, TableChassis, chassis.Name, chassis)
}

func (s *EtcdStore) DeleteChassis(ctx context.Context, name string) error {
	return s.delete(ctx, TableChassis, name)
}

// Logical switch operations
func (s *EtcdStore) CreateLogicalSwitch(ctx context.Context, lswitch *types.LogicalSwitch) error {
	return s.create(ctx, TableLSwitch, lswitch.Name, lswitch)
}

func (s *EtcdStore) GetLogicalSwitch(ctx context.Context, name string) (*types.LogicalSwitch, error) {
	var lswitch types.LogicalSwitch
	if _, err := s.get(ctx, TableLSwitch, name, &lswitch); err != nil {
		return nil, err
	}
	return &lswitch, nil
}

func (s *EtcdStore) ListLogicalSwitches(ctx context.Context) ([]*types.LogicalSwitch, error) {
	return etcdList[types.LogicalSwitch](ctx, s, TableLSwitch)
}

func (s *EtcdStore) UpdateLogicalSwitch(ctx context.Context, lswitch *types.LogicalSwitch) error {
	return s.update(ctx, TableLSwitch, lswitch.Name, lswitch)
}

func (s *EtcdStore) DeleteLogicalSwitch(ctx context.Context, name string) error {
	return s.delete(ctx, TableLSwitch, name)
}

// Logical port operations
func (s *EtcdStore) CreateLogicalPort(ctx context.Context, lport *types.LogicalPort) error {
	return s.create(ctx, TableLPort, lport.ID, lport)
}

func (s *EtcdStore) GetLogicalPort(ctx context.Context, id string) (*types.LogicalPort, error) {
	var lport types.LogicalPort
	if _, err := s.get(ctx, TableLPort, id, &lport); err != nil {
		return nil, err
	}
	return &lport, nil
}

func (s *EtcdStore) ListLogicalPorts(ctx context.Context) ([]*types.LogicalPort, error) {
	return etcdList[types.LogicalPort](ctx, s, TableLPort)
}

func (s *EtcdStore) UpdateLogicalPort(ctx context.Context, lport *types.LogicalPort) error {
	return s.update(ctx, TableLPort, lport.ID, lport)
}

func (s *EtcdStore) DeleteLogicalPort(ctx context.Context, id string) error {
	return s.delete(ctx, TableLPort, id)
}

// Logical router operations
func (s *EtcdStore) CreateRouter(ctx context.Context, router *types.LogicalRouter) error {
	return s.create(ctx, TableLRouter, router.Name, router)
}

func (s *EtcdStore) GetRouter(ctx context.Context, name string) (*types.LogicalRouter, error) {
	var router types.LogicalRouter
	if _, err := s.get(ctx, TableLRouter, name, &router); err != nil {
		return nil, err
	}
	return &router, nil
}

func (s *EtcdStore) ListRouters(ctx context.Context) ([]*types.LogicalRouter, error) {
	return etcdList[types.LogicalRouter](ctx, s, TableLRouter)
}

func (s *EtcdStore) DeleteRouter(ctx context.Context, name string) error {
	return s.delete(ctx, TableLRouter, name)
}

// modifyRouter applies fn to the stored router and writes it back, retrying
// when another writer changed the router in between
func (s *EtcdStore) modifyRouter(ctx context.Context, name string, fn func(*types.LogicalRouter) bool) error {
	for {
		var router types.LogicalRouter
		rev, err := s.get(ctx, TableLRouter, name, &router)
		if err != nil {
			return err
		}
		if !fn(&router) {
			return nil
		}
		ok, err := s.putIf(ctx, TableLRouter, name, rev, &router)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
}

func (s *EtcdStore) AddRouterPort(ctx context.Context, router string, port types.LogicalRouterPort) error {
	port.Router = router
	return s.modifyRouter(ctx, router, func(r *types.LogicalRouter) bool {
		r.Ports = append(r.Ports, port)
		return true
	})
}

func (s *EtcdStore) DeleteRouterPort(ctx context.Context, router, lswitch string) error {
	return s.modifyRouter(ctx, router, func(r *types.LogicalRouter) bool {
		return removeRouterPorts(r, lswitch)
	})
}

// Snapshot reads the whole northbound prefix at a single revision
func (s *EtcdStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	resp, err := s.client.Get(ctx, s.prefix+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	byTable := make(map[string][]*mvccpb.KeyValue)
	for _, kv := range resp.Kvs {
		rest := strings.TrimPrefix(string(kv.Key), s.prefix+"/")
		table, _, ok := strings.Cut(rest, "/")
		if !ok {
			continue
		}
		byTable[table] = append(byTable[table], kv)
	}

	snap := &Snapshot{}
	if snap.Chassis, err = decodeKVs[types.Chassis](TableChassis, byTable[TableChassis]); err != nil {
		return nil, err
	}
	if snap.Switches, err = decodeKVs[types.LogicalSwitch](TableLSwitch, byTable[TableLSwitch]); err != nil {
		return nil, err
	}
	if snap.Ports, err = decodeKVs[types.LogicalPort](TableLPort, byTable[TableLPort]); err != nil {
		return nil, err
	}
	if snap.Routers, err = decodeKVs[types.LogicalRouter](TableLRouter, byTable[TableLRouter]); err != nil {
		return nil, err
	}
	return snap, nil
}

// ReadCounter returns the tunnel key counter; its mod revision is the version
func (s *EtcdStore) ReadCounter(ctx context.Context) (uint64, keyalloc.Version, error) {
	var rec counterRecord
	rev, err := s.get(ctx, TableTunnelKey, counterKey, &rec)
	if err != nil {
		if isNotFound(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	return rec.Value, keyalloc.Version(rev), nil
}

// CompareAndSwapCounter writes next if the counter's mod revision is unchanged
func (s *EtcdStore) CompareAndSwapCounter(ctx context.Context, version keyalloc.Version, next uint64) error {
	ok, err := s.putIf(ctx, TableTunnelKey, counterKey, int64(version), counterRecord{Value: next})
	if err != nil {
		return err
	}
	if !ok {
		return keyalloc.ErrVersionConflict
	}
	return nil
}
