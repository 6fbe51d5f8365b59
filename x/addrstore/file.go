package addrstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/compose-network/bridge-deployer/x/resource"
)

const connectorsField = "connectors"

// FileName is the address-map file for one (deployment mode, project) pair.
func FileName(deploymentMode, project string) string {
	return fmt.Sprintf("%s_%s_addresses.json", deploymentMode, project)
}

// FileStore keeps the whole address map in memory and rewrites the file
// after every successful Put. The on-disk layout is
// network -> token -> role -> address, with connectors nested as
// connectors -> sibling -> variant -> address.
type FileStore struct {
	mu      sync.RWMutex
	path    string
	records map[resource.Key]resource.Record
	log     zerolog.Logger
}

// OpenFile loads path if it exists, or starts an empty map.
func OpenFile(path string, log zerolog.Logger) (*FileStore, error) {
	fs := &FileStore{
		path:    path,
		records: make(map[resource.Key]resource.Record),
		log:     log.With().Str("component", "addrstore-file").Str("path", path).Logger(),
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	fs.log.Debug().Int("records", len(fs.records)).Msg("Address map loaded")
	return fs, nil
}

type fileLayout map[string]map[string]map[string]json.RawMessage

func (f *FileStore) load() error {
	info, err := os.Stat(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("addrstore: stat %s: %w", f.path, err)
	}
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("addrstore: read %s: %w", f.path, err)
	}
	if len(raw) == 0 {
		return nil
	}

	var layout fileLayout
	if err := json.Unmarshal(raw, &layout); err != nil {
		return fmt.Errorf("addrstore: decode %s: %w", f.path, err)
	}

	loadedAt := info.ModTime().UTC()
	for network, tokens := range layout {
		for token, fields := range tokens {
			for field, value := range fields {
				if field == connectorsField {
					var conns map[string]map[string]string
					if err := json.Unmarshal(value, &conns); err != nil {
						return fmt.Errorf("addrstore: decode connectors of %s/%s: %w", network, token, err)
					}
					for sibling, variants := range conns {
						for variant, addr := range variants {
							key := resource.ConnectorKey(resource.NetworkID(network), resource.TokenID(token),
								resource.NetworkID(sibling), resource.Variant(variant))
							if err := f.addLoaded(key, addr, loadedAt); err != nil {
								return err
							}
						}
					}
					continue
				}

				role, err := resource.ParseRole(field)
				if err != nil {
					return fmt.Errorf("addrstore: %s/%s: %w", network, token, err)
				}
				var addr string
				if err := json.Unmarshal(value, &addr); err != nil {
					return fmt.Errorf("addrstore: decode %s/%s/%s: %w", network, token, field, err)
				}
				key := resource.NewKey(resource.NetworkID(network), resource.TokenID(token), role)
				if err := f.addLoaded(key, addr, loadedAt); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (f *FileStore) addLoaded(key resource.Key, addr string, at time.Time) error {
	if !common.IsHexAddress(addr) {
		return fmt.Errorf("addrstore: %s: invalid address %q", key, addr)
	}
	if err := key.Validate(); err != nil {
		return fmt.Errorf("addrstore: %w", err)
	}
	f.records[key] = resource.Record{Key: key, Address: common.HexToAddress(addr), CreatedAt: at}
	return nil
}

func (f *FileStore) Get(_ context.Context, key resource.Key) (resource.Record, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	rec, ok := f.records[key]
	return rec, ok, nil
}

func (f *FileStore) Put(_ context.Context, rec resource.Record) error {
	if err := validateRecord(&rec); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	existing, found := f.records[rec.Key]
	write, err := admit(existing, found, rec)
	if err != nil || !write {
		return err
	}

	f.records[rec.Key] = rec
	if err := f.flush(); err != nil {
		delete(f.records, rec.Key)
		return err
	}
	f.log.Debug().Str("key", rec.Key.String()).Str("address", rec.Address.Hex()).Msg("Address recorded")
	return nil
}

func (f *FileStore) Records(_ context.Context) ([]resource.Record, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]resource.Record, 0, len(f.records))
	for _, rec := range f.records {
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

func (f *FileStore) Close() error { return nil }

// flush must be called with f.mu held.
func (f *FileStore) flush() error {
	layout := make(map[string]map[string]map[string]interface{})
	for key, rec := range f.records {
		network, token := string(key.Network), string(key.Token)
		if layout[network] == nil {
			layout[network] = make(map[string]map[string]interface{})
		}
		if layout[network][token] == nil {
			layout[network][token] = make(map[string]interface{})
		}
		fields := layout[network][token]

		if key.Role != resource.RoleConnector {
			fields[string(key.Role)] = rec.Address.Hex()
			continue
		}
		conns, _ := fields[connectorsField].(map[string]map[string]string)
		if conns == nil {
			conns = make(map[string]map[string]string)
			fields[connectorsField] = conns
		}
		if conns[string(key.Sibling)] == nil {
			conns[string(key.Sibling)] = make(map[string]string)
		}
		conns[string(key.Sibling)][string(key.Variant)] = rec.Address.Hex()
	}

	data, err := json.MarshalIndent(layout, "", "  ")
	if err != nil {
		return fmt.Errorf("addrstore: encode: %w", err)
	}
	return writeFileAtomic(f.path, append(data, '\n'))
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("addrstore: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("addrstore: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("addrstore: write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("addrstore: sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("addrstore: close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("addrstore: rename %s: %w", tmpName, err)
	}
	return nil
}
