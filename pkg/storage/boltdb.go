package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/aria/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketServices      = []byte("services")
	bucketNodes         = []byte("nodes")
	bucketRelationships = []byte("relationships")
	bucketExecutions    = []byte("executions")
	bucketTasks         = []byte("tasks")
	bucketPlugins       = []byte("plugins")
)

// BoltStore implements Store on top of a single BoltDB file, one bucket per
// entity kind, JSON-encoded values keyed by entity ID.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the model database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "aria.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{
			bucketServices, bucketNodes, bucketRelationships,
			bucketExecutions, bucketTasks, bucketPlugins,
		} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
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

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// putVersioned marshals v and stores it under id in bucket, after checking
// that the stored copy's "version" field (if any) matches expectVersion.
// newVersion is the version written. A expectVersion of 0 means "must not
// exist yet".
func putVersioned(tx *bolt.Tx, bucket []byte, id string, expectVersion, newVersion uint64, v interface{}) error {
	b := tx.Bucket(bucket)
	existing := b.Get([]byte(id))
	if expectVersion == 0 {
		if existing != nil {
			return fmt.Errorf("storage: %s already exists", id)
		}
	} else {
		if existing == nil {
			return ErrNotFound
		}
		var stored struct {
			Version uint64
		}
		if err := json.Unmarshal(existing, &stored); err != nil {
			return err
		}
		if stored.Version != expectVersion {
			return ErrVersionConflict
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(id), data)
}

func getJSON(tx *bolt.Tx, bucket []byte, id string, out interface{}) error {
	b := tx.Bucket(bucket)
	data := b.Get([]byte(id))
	if data == nil {
		return ErrNotFound
	}
	return json.Unmarshal(data, out)
}

// --- Services ---

func (s *BoltStore) CreateService(svc *types.Service) error {
	svc.Version = 1
	return s.db.Update(func(tx *bolt.Tx) error {
		return putVersioned(tx, bucketServices, svc.ID, 0, svc.Version, svc)
	})
}

func (s *BoltStore) GetService(id string) (*types.Service, error) {
	var svc types.Service
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx, bucketServices, id, &svc)
	})
	if err != nil {
		return nil, err
	}
	return &svc, nil
}

func (s *BoltStore) GetServiceByName(name string) (*types.Service, error) {
	var found *types.Service
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServices)
		return b.ForEach(func(k, v []byte) error {
			var svc types.Service
			if err := json.Unmarshal(v, &svc); err != nil {
				return err
			}
			if svc.Name == name {
				found = &svc
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (s *BoltStore) ListServices() ([]*types.Service, error) {
	var out []*types.Service
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServices)
		return b.ForEach(func(k, v []byte) error {
			var svc types.Service
			if err := json.Unmarshal(v, &svc); err != nil {
				return err
			}
			out = append(out, &svc)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateService(svc *types.Service) error {
	expect := svc.Version
	svc.Version = expect + 1
	err := s.db.Update(func(tx *bolt.Tx) error {
		return putVersioned(tx, bucketServices, svc.ID, expect, svc.Version, svc)
	})
	if err != nil {
		svc.Version = expect
	}
	return err
}

func (s *BoltStore) DeleteService(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServices).Delete([]byte(id))
	})
}

// --- Nodes ---

func (s *BoltStore) CreateNode(n *types.Node) error {
	n.Version = 1
	return s.db.Update(func(tx *bolt.Tx) error {
		return putVersioned(tx, bucketNodes, n.ID, 0, n.Version, n)
	})
}

func (s *BoltStore) GetNode(id string) (*types.Node, error) {
	var n types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx, bucketNodes, id, &n)
	})
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *BoltStore) ListNodesByService(serviceID string) ([]*types.Node, error) {
	var out []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.ForEach(func(k, v []byte) error {
			var n types.Node
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			if n.ServiceID == serviceID {
				out = append(out, &n)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateNode(n *types.Node) error {
	expect := n.Version
	n.Version = expect + 1
	err := s.db.Update(func(tx *bolt.Tx) error {
		return putVersioned(tx, bucketNodes, n.ID, expect, n.Version, n)
	})
	if err != nil {
		n.Version = expect
	}
	return err
}

// --- Relationships ---

func (s *BoltStore) CreateRelationship(r *types.Relationship) error {
	r.Version = 1
	return s.db.Update(func(tx *bolt.Tx) error {
		return putVersioned(tx, bucketRelationships, r.ID, 0, r.Version, r)
	})
}

func (s *BoltStore) GetRelationship(id string) (*types.Relationship, error) {
	var r types.Relationship
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx, bucketRelationships, id, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *BoltStore) ListRelationshipsByService(serviceID string) ([]*types.Relationship, error) {
	var out []*types.Relationship
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRelationships)
		return b.ForEach(func(k, v []byte) error {
			var r types.Relationship
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.ServiceID == serviceID {
				out = append(out, &r)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateRelationship(r *types.Relationship) error {
	expect := r.Version
	r.Version = expect + 1
	err := s.db.Update(func(tx *bolt.Tx) error {
		return putVersioned(tx, bucketRelationships, r.ID, expect, r.Version, r)
	})
	if err != nil {
		r.Version = expect
	}
	return err
}

// --- Executions ---

func (s *BoltStore) CreateExecution(e *types.Execution) error {
	e.Version = 1
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := s.checkNoActiveExecution(tx, e.ServiceID); err != nil {
			return err
		}
		return putVersioned(tx, bucketExecutions, e.ID, 0, e.Version, e)
	})
}

func (s *BoltStore) checkNoActiveExecution(tx *bolt.Tx, serviceID string) error {
	b := tx.Bucket(bucketExecutions)
	var conflict error
	err := b.ForEach(func(k, v []byte) error {
		var e types.Execution
		if err := json.Unmarshal(v, &e); err != nil {
			return err
		}
		if e.ServiceID == serviceID && types.IsExecutionActive(e.Status) {
			conflict = ErrActiveExecution
		}
		return nil
	})
	if err != nil {
		return err
	}
	return conflict
}

func (s *BoltStore) GetExecution(id string) (*types.Execution, error) {
	var e types.Execution
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx, bucketExecutions, id, &e)
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *BoltStore) ListExecutionsByService(serviceID string) ([]*types.Execution, error) {
	var out []*types.Execution
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		return b.ForEach(func(k, v []byte) error {
			var e types.Execution
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.ServiceID == serviceID {
				out = append(out, &e)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateExecution(e *types.Execution) error {
	expect := e.Version
	if expect > 0 {
		var current types.Execution
		err := s.db.View(func(tx *bolt.Tx) error {
			return getJSON(tx, bucketExecutions, e.ID, &current)
		})
		if err == nil && !types.CanTransitionExecution(current.Status, e.Status) {
			return fmt.Errorf("storage: invalid execution transition %s -> %s", current.Status, e.Status)
		}
	}
	e.Version = expect + 1
	err := s.db.Update(func(tx *bolt.Tx) error {
		return putVersioned(tx, bucketExecutions, e.ID, expect, e.Version, e)
	})
	if err != nil {
		e.Version = expect
	}
	return err
}

// --- Tasks ---

func (s *BoltStore) CreateTask(t *types.Task) error {
	t.Version = 1
	return s.db.Update(func(tx *bolt.Tx) error {
		return putVersioned(tx, bucketTasks, t.ID, 0, t.Version, t)
	})
}

func (s *BoltStore) GetTask(id string) (*types.Task, error) {
	var t types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx, bucketTasks, id, &t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *BoltStore) ListTasksByExecution(executionID string) ([]*types.Task, error) {
	var out []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		return b.ForEach(func(k, v []byte) error {
			var t types.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.ExecutionID == executionID {
				out = append(out, &t)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateTask(t *types.Task) error {
	expect := t.Version
	t.Version = expect + 1
	err := s.db.Update(func(tx *bolt.Tx) error {
		return putVersioned(tx, bucketTasks, t.ID, expect, t.Version, t)
	})
	if err != nil {
		t.Version = expect
	}
	return err
}

// --- Plugins ---

func (s *BoltStore) CreatePlugin(p *types.Plugin) error {
	p.Version = 1
	return s.db.Update(func(tx *bolt.Tx) error {
		return putVersioned(tx, bucketPlugins, p.ID, 0, p.Version, p)
	})
}

func (s *BoltStore) GetPlugin(id string) (*types.Plugin, error) {
	var p types.Plugin
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx, bucketPlugins, id, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *BoltStore) GetPluginByName(name string) (*types.Plugin, error) {
	var found *types.Plugin
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPlugins)
		return b.ForEach(func(k, v []byte) error {
			var p types.Plugin
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.Name == name {
				found = &p
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (s *BoltStore) ListPlugins() ([]*types.Plugin, error) {
	var out []*types.Plugin
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPlugins)
		return b.ForEach(func(k, v []byte) error {
			var p types.Plugin
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			out = append(out, &p)
			return nil
		})
	})
	return out, err
}

// --- Tracked changes ---

// ApplyTrackedChanges replays each change against its entity kind's current
// stored copy under the optimistic-retry loop, so a slow reconciliation
// racing against a concurrent model.refresh never silently clobbers a
// write it didn't see.
func (s *BoltStore) ApplyTrackedChanges(changes []TrackedChange) error {
	for _, c := range changes {
		c := c
		var applyErr error
		switch c.EntityKind {
		case "node":
			applyErr = WithRetry(5, func() error {
				n, err := s.GetNode(c.EntityID)
				if err != nil {
					return err
				}
				if n.Attributes == nil {
					n.Attributes = map[string]interface{}{}
				}
				n.Attributes[c.Attribute] = c.NewValue
				return s.UpdateNode(n)
			})
		case "relationship":
			applyErr = WithRetry(5, func() error {
				r, err := s.GetRelationship(c.EntityID)
				if err != nil {
					return err
				}
				if r.Attributes == nil {
					r.Attributes = map[string]interface{}{}
				}
				r.Attributes[c.Attribute] = c.NewValue
				return s.UpdateRelationship(r)
			})
		case "task":
			applyErr = WithRetry(5, func() error {
				t, err := s.GetTask(c.EntityID)
				if err != nil {
					return err
				}
				applyTaskAttribute(t, c.Attribute, c.NewValue)
				return s.UpdateTask(t)
			})
		case "execution":
			applyErr = WithRetry(5, func() error {
				e, err := s.GetExecution(c.EntityID)
				if err != nil {
					return err
				}
				applyExecutionAttribute(e, c.Attribute, c.NewValue)
				return s.UpdateExecution(e)
			})
		default:
			applyErr = fmt.Errorf("storage: unknown tracked change entity kind %q", c.EntityKind)
		}
		if applyErr != nil {
			return fmt.Errorf("storage: applying tracked change on %s %s: %w", c.EntityKind, c.EntityID, applyErr)
		}
	}
	return nil
}

func applyTaskAttribute(t *types.Task, attribute string, value interface{}) {
	switch attribute {
	case "status":
		if s, ok := value.(string); ok {
			t.Status = types.TaskStatus(s)
		}
	case "error":
		if s, ok := value.(string); ok {
			t.Error = s
		}
	default:
		if t.Inputs == nil {
			t.Inputs = map[string]interface{}{}
		}
		t.Inputs[attribute] = value
	}
}

func applyExecutionAttribute(e *types.Execution, attribute string, value interface{}) {
	switch attribute {
	case "status":
		if s, ok := value.(string); ok {
			e.Status = types.ExecutionStatus(s)
		}
	case "error":
		if s, ok := value.(string); ok {
			e.Error = s
		}
	}
}
