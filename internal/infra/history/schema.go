package history

import (
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

const (
	schemaVersion = 1

	rootBucketName  = "mcpagent_history"
	metaBucketName  = "meta"
	runsBucketName  = "runs"
	statsBucketName = "stats"
	versionKey      = "version"
)

func ensureSchema(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists([]byte(rootBucketName))
		if err != nil {
			return fmt.Errorf("create root bucket: %w", err)
		}
		meta, err := root.CreateBucketIfNotExists([]byte(metaBucketName))
		if err != nil {
			return fmt.Errorf("create meta bucket: %w", err)
		}
		if _, err := root.CreateBucketIfNotExists([]byte(runsBucketName)); err != nil {
			return fmt.Errorf("create runs bucket: %w", err)
		}
		if _, err := root.CreateBucketIfNotExists([]byte(statsBucketName)); err != nil {
			return fmt.Errorf("create stats bucket: %w", err)
		}

		currentVersion := readUint(meta.Get([]byte(versionKey)))
		switch {
		case currentVersion == 0:
			return meta.Put([]byte(versionKey), encodeUint(schemaVersion))
		case currentVersion > schemaVersion:
			return fmt.Errorf("unsupported history schema version %d", currentVersion)
		case currentVersion < schemaVersion:
			return fmt.Errorf("missing migration path from %d to %d", currentVersion, schemaVersion)
		default:
			return nil
		}
	})
}

func encodeUint(value uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, value)
	return buf
}

func readUint(raw []byte) uint64 {
	if len(raw) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(raw)
}
