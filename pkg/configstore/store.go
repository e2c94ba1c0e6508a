// Package configstore is the Configuration Store: the single durable,
// versioned record of the cluster's desired Deployment, and the sole
// point other components subscribe to for "configuration changed"
// notifications.
package configstore

import (
	"fmt"

	"github.com/flocker-cluster/flocker/pkg/codec"
	"github.com/flocker-cluster/flocker/pkg/eventbus"
	"github.com/flocker-cluster/flocker/pkg/model"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketDeployment = []byte("deployment")
	deploymentKey    = []byte("current")
)

// Store is a single-writer, durable home for the cluster's Deployment,
// backed by a bbolt database file. Unlike a general-purpose multi-bucket
// key/value store, this store only ever holds one logical record: bolt's
// own commit (mmap + fsync on Update) is the atomic durable write
// desired here, so there is no separate tempfile+rename step to get
// right.
type Store struct {
	db     *bolt.DB
	broker *eventbus.Broker[model.Deployment]
}

// Open creates or reopens the configuration store at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("configstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDeployment)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("configstore: create bucket: %w", err)
	}

	return &Store{db: db, broker: eventbus.New[model.Deployment]()}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the current Deployment, or an empty Deployment
// (version 0, no nodes) if none has ever been saved.
func (s *Store) Get() (model.Deployment, error) {
	var deployment model.Deployment
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketDeployment).Get(deploymentKey)
		if data == nil {
			deployment = model.Deployment{Nodes: map[string]model.NodeConfig{}}
			return nil
		}
		decoded, err := codec.DecodeDeployment(data)
		if err != nil {
			return err
		}
		deployment = decoded
		return nil
	})
	return deployment, err
}

// Save persists next as the current Deployment and notifies every
// registered callback once the write has durably committed. Save
// rejects next if its Version is not strictly greater than the
// currently stored one — configuration only ever moves forward — with
// a KindConflict error.
func (s *Store) Save(next model.Deployment) error {
	encoded, err := codec.EncodeDeployment(next)
	if err != nil {
		return model.NewError(model.KindSchemaMismatch, "configstore: encode deployment", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketDeployment)
		existing := bucket.Get(deploymentKey)
		if existing != nil {
			current, err := codec.DecodeDeployment(existing)
			if err != nil {
				return model.NewError(model.KindSchemaMismatch, "configstore: decode stored deployment", err)
			}
			if next.Version <= current.Version {
				return model.NewError(model.KindConflict,
					fmt.Sprintf("configstore: refusing to save version %d over %d", next.Version, current.Version), nil)
			}
		}
		return bucket.Put(deploymentKey, encoded)
	})
	if err != nil {
		return err
	}

	s.broker.Publish(next.Copy())
	return nil
}

// Register subscribes to every future successful Save, receiving the
// saved Deployment after its transaction commits. The returned
// unsubscribe function removes the subscription; callers should defer
// it when they stop caring about updates.
func (s *Store) Register(buffer int) (updates <-chan model.Deployment, unsubscribe func()) {
	sub := s.broker.Subscribe(buffer)
	return sub, func() { s.broker.Unsubscribe(sub) }
}
