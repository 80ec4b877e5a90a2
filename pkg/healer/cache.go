package healer

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/fleetcore/pkg/types"
)

var (
	bucketContainers = []byte("containers")
	bucketEvents     = []byte("events")
)

// Cache is a worker-local, disk-backed mirror of the Supervisor's tracked
// containers and healing history. It exists so a Supervisor restart
// (process crash, deploy) doesn't forget its tracked containers or the
// healing report, which otherwise live only in memory. Container records
// are saved at registration only, so HealAttempts changes made while
// healing are not reflected here.
type Cache struct {
	db *bolt.DB
}

// NewCache opens (creating if absent) a BoltDB file at path for the
// Supervisor to persist into.
func NewCache(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening healer cache at %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketContainers); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketEvents)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing healer cache buckets: %w", err)
	}

	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// SaveContainer persists the current record for one container, overwriting
// any prior entry.
func (c *Cache) SaveContainer(record types.ContainerRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding container record %s: %w", record.ID, err)
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContainers).Put([]byte(record.ID), data)
	})
}

// DeleteContainer removes a container's persisted record, e.g. after
// Forget.
func (c *Cache) DeleteContainer(id string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContainers).Delete([]byte(id))
	})
}

// LoadContainers returns every persisted container record, for the
// Supervisor to re-register at startup.
func (c *Cache) LoadContainers() ([]types.ContainerRecord, error) {
	var records []types.ContainerRecord
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContainers).ForEach(func(_, data []byte) error {
			var record types.ContainerRecord
			if err := json.Unmarshal(data, &record); err != nil {
				return err
			}
			records = append(records, record)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("loading cached containers: %w", err)
	}
	return records, nil
}

// AppendEvent persists one healing event, keyed by its timestamp so events
// come back out in insertion order under ForEach.
func (c *Cache) AppendEvent(event types.HealingEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding healing event for %s: %w", event.ContainerID, err)
	}
	key := []byte(event.Timestamp.UTC().Format("20060102T150405.000000000") + "-" + event.ContainerID)
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEvents).Put(key, data)
	})
}

// LoadEvents returns every persisted healing event, oldest-first.
func (c *Cache) LoadEvents() ([]types.HealingEvent, error) {
	var events []types.HealingEvent
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEvents).ForEach(func(_, data []byte) error {
			var event types.HealingEvent
			if err := json.Unmarshal(data, &event); err != nil {
				return err
			}
			events = append(events, event)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("loading cached healing events: %w", err)
	}
	return events, nil
}
