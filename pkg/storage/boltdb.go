package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/crucible/pkg/types"
	bolt "go.etcd.io/bbolt"
)

func defaultNow() time.Time { return time.Now() }

var (
	bucketTasks    = []byte("tasks")
	bucketPackages = []byte("packages")
)

// BoltStore implements Store on top of a single BoltDB file, one
// bucket per entity, JSON-encoded values — the same shape the teacher
// uses for every other entity in pkg/storage/boltdb.go.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "crucible.db")

	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketTasks, bucketPackages} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
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

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func packageKey(name, stage, version string) []byte {
	return []byte(name + "/" + stage + "/" + version)
}

func (s *BoltStore) putTask(tx *bolt.Tx, task *types.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketTasks).Put([]byte(task.ID), data)
}

func (s *BoltStore) Add(task *types.Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return s.putTask(tx, task)
	})
}

func (s *BoltStore) Get(id string) (*types.Task, error) {
	var task *types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTasks).Get([]byte(id))
		if data == nil {
			return nil
		}
		task = &types.Task{}
		return json.Unmarshal(data, task)
	})
	return task, err
}

func (s *BoltStore) listAll() ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			tasks = append(tasks, &task)
			return nil
		})
	})
	return tasks, err
}

func (s *BoltStore) ListByStage(stage string) ([]*types.Task, error) {
	all, err := s.listAll()
	if err != nil {
		return nil, err
	}
	var filtered []*types.Task
	for _, t := range all {
		if t.Stage == stage {
			filtered = append(filtered, t)
		}
	}
	return filtered, nil
}

func (s *BoltStore) ListRunningOnReplica(ip string) ([]*types.Task, error) {
	all, err := s.listAll()
	if err != nil {
		return nil, err
	}
	var filtered []*types.Task
	for _, t := range all {
		if t.IPAddress == ip && !t.Status.IsTerminal() {
			filtered = append(filtered, t)
		}
	}
	return filtered, nil
}

func (s *BoltStore) ListByDeployment(deploymentID string, statusFilter types.TaskStatus) ([]*types.Task, error) {
	all, err := s.listAll()
	if err != nil {
		return nil, err
	}
	var filtered []*types.Task
	for _, t := range all {
		if t.DeploymentID != deploymentID {
			continue
		}
		if statusFilter != "" && t.Status != statusFilter {
			continue
		}
		filtered = append(filtered, t)
	}
	return filtered, nil
}

func (s *BoltStore) CountByDeployment(deploymentID string, statusFilter types.TaskStatus) (int, error) {
	filtered, err := s.ListByDeployment(deploymentID, statusFilter)
	if err != nil {
		return 0, err
	}
	return len(filtered), nil
}

func (s *BoltStore) UpdateStatus(id string, status types.TaskStatus, result *types.Result) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data := b.Get([]byte(id))
		if data == nil {
			return types.NewError(types.ErrTaskNotFound, "task not found: "+id, nil)
		}
		var task types.Task
		if err := json.Unmarshal(data, &task); err != nil {
			return err
		}
		task.Status = status
		if status.IsTerminal() {
			task.FinishedAt = nowFunc()
		}
		if result != nil {
			task.Result = result
		}
		return s.putTask(tx, &task)
	})
}

func (s *BoltStore) UpdateUIInfo(id string, ip string, port int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data := b.Get([]byte(id))
		if data == nil {
			return types.NewError(types.ErrTaskNotFound, "task not found: "+id, nil)
		}
		var task types.Task
		if err := json.Unmarshal(data, &task); err != nil {
			return err
		}
		task.IsUIApp = true
		task.UIIPAddress = ip
		task.UIPort = port
		if task.OriginalUIPort == 0 {
			task.OriginalUIPort = port
		}
		return s.putTask(tx, &task)
	})
}

func (s *BoltStore) UpdateVSCodePort(id string, port int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data := b.Get([]byte(id))
		if data == nil {
			return types.NewError(types.ErrTaskNotFound, "task not found: "+id, nil)
		}
		var task types.Task
		if err := json.Unmarshal(data, &task); err != nil {
			return err
		}
		task.VSCodePort = port
		return s.putTask(tx, &task)
	})
}

func (s *BoltStore) UpdatePID(id string, pid int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data := b.Get([]byte(id))
		if data == nil {
			return types.NewError(types.ErrTaskNotFound, "task not found: "+id, nil)
		}
		var task types.Task
		if err := json.Unmarshal(data, &task); err != nil {
			return err
		}
		task.PID = pid
		return s.putTask(tx, &task)
	})
}

func (s *BoltStore) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).Delete([]byte(id))
	})
}

func (s *BoltStore) GetPackage(name, stage, version string) (*types.Package, error) {
	var pkg *types.Package
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPackages).Get(packageKey(name, stage, version))
		if data == nil {
			return nil
		}
		pkg = &types.Package{}
		return json.Unmarshal(data, pkg)
	})
	return pkg, err
}

func (s *BoltStore) PutPackage(pkg *types.Package) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(pkg)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPackages).Put(packageKey(pkg.Name, pkg.Stage, pkg.Version), data)
	})
}

// nowFunc is a seam for tests; production code always uses time.Now.
var nowFunc = defaultNow
