package addrstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/compose-network/bridge-deployer/x/resource"
)

// VerificationEntry describes one created contract so it can be verified
// against its bytecode later.
type VerificationEntry struct {
	Address      string       `json:"address"`
	Kind         string       `json:"kind"`
	Key          resource.Key `json:"key"`
	CreationArgs []string     `json:"creation_args"`
	RecordedAt   time.Time    `json:"recorded_at"`
}

// VerificationLog appends entries to one JSON file per network.
type VerificationLog struct {
	mu  sync.Mutex
	dir string
}

func NewVerificationLog(dir string) *VerificationLog {
	return &VerificationLog{dir: dir}
}

// Path returns the file holding the entries of network.
func (v *VerificationLog) Path(network resource.NetworkID) string {
	return filepath.Join(v.dir, string(network)+".json")
}

// Append adds entry to its network's file. An entry for an address already
// present is ignored.
func (v *VerificationLog) Append(entry VerificationEntry) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := v.read(entry.Key.Network)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if resource.SameAddress(e.Address, entry.Address) {
			return nil
		}
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	if entry.CreationArgs == nil {
		entry.CreationArgs = []string{}
	}
	entries = append(entries, entry)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("addrstore: encode verification entries: %w", err)
	}
	return writeFileAtomic(v.Path(entry.Key.Network), append(data, '\n'))
}

// Entries returns what has been recorded for network.
func (v *VerificationLog) Entries(network resource.NetworkID) ([]VerificationEntry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.read(network)
}

func (v *VerificationLog) read(network resource.NetworkID) ([]VerificationEntry, error) {
	raw, err := os.ReadFile(v.Path(network))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("addrstore: read verification file: %w", err)
	}
	var entries []VerificationEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("addrstore: decode verification file: %w", err)
	}
	return entries, nil
}
