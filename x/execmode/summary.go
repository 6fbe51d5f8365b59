package execmode

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/compose-network/bridge-deployer/x/resource"
)

// MethodDeploy marks a recorded contract creation.
const MethodDeploy = "deploy"

// Change is one write that a dry-run did not submit.
type Change struct {
	Network  resource.NetworkID `json:"network"`
	ChainID  uint64             `json:"chain_id"`
	Target   string             `json:"target"`
	To       string             `json:"to,omitempty"`
	Contract string             `json:"contract"`
	Method   string             `json:"method"`
	Args     []string           `json:"args"`
	Calldata string             `json:"calldata"`
}

// ChangeSummary collects dry-run changes for out-of-band execution.
type ChangeSummary struct {
	mu      sync.Mutex
	changes []Change
}

func NewChangeSummary() *ChangeSummary {
	return &ChangeSummary{}
}

func (s *ChangeSummary) Add(c Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, c)
}

// Changes returns a copy in recording order.
func (s *ChangeSummary) Changes() []Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Change, len(s.changes))
	copy(out, s.changes)
	return out
}

func (s *ChangeSummary) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.changes)
}

// batchFile follows the Safe transaction-builder JSON shape. Contract
// creations cannot be proposed through it and are listed separately.
type batchFile struct {
	Version      string    `json:"version"`
	ChainID      string    `json:"chainId"`
	CreatedAt    int64     `json:"createdAt"`
	Meta         batchMeta `json:"meta"`
	Transactions []batchTx `json:"transactions"`
	Deployments  []Change  `json:"deployments,omitempty"`
}

type batchMeta struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type batchTx struct {
	To    string `json:"to"`
	Value string `json:"value"`
	Data  string `json:"data"`
}

// WriteBatches writes one batch file per network under dir and returns
// the paths written, sorted.
func (s *ChangeSummary) WriteBatches(dir, project string, now time.Time) ([]string, error) {
	byNetwork := make(map[resource.NetworkID][]Change)
	for _, c := range s.Changes() {
		byNetwork[c.Network] = append(byNetwork[c.Network], c)
	}
	if len(byNetwork) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("execmode: create %s: %w", dir, err)
	}

	var paths []string
	for network, changes := range byNetwork {
		f := batchFile{
			Version:   "1.0",
			ChainID:   strconv.FormatUint(changes[0].ChainID, 10),
			CreatedAt: now.UnixMilli(),
			Meta: batchMeta{
				Name:        fmt.Sprintf("%s %s", project, network),
				Description: fmt.Sprintf("%d change(s) recorded by a dry-run", len(changes)),
			},
			Transactions: []batchTx{},
		}
		for _, c := range changes {
			if c.Method == MethodDeploy {
				f.Deployments = append(f.Deployments, c)
				continue
			}
			f.Transactions = append(f.Transactions, batchTx{To: c.To, Value: "0", Data: c.Calldata})
		}

		data, err := json.MarshalIndent(f, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("execmode: encode batch for %s: %w", network, err)
		}
		p := filepath.Join(dir, string(network)+".json")
		if err := os.WriteFile(p, append(data, '\n'), 0o644); err != nil {
			return nil, fmt.Errorf("execmode: write %s: %w", p, err)
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}
