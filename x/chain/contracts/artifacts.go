package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Artifacts loads creation bytecode from compiler output. Both the foundry
// layout (<dir>/<Name>.sol/<Name>.json, bytecode.object) and flat hardhat
// style files (<dir>/<Name>.json, bytecode) are accepted.
type Artifacts struct {
	dir string

	mu    sync.Mutex
	cache map[string][]byte
}

func NewArtifacts(dir string) *Artifacts {
	return &Artifacts{dir: dir, cache: make(map[string][]byte)}
}

type artifactFile struct {
	Bytecode json.RawMessage `json:"bytecode"`
}

// Bytecode returns the creation code of the named contract.
func (a *Artifacts) Bytecode(name string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if code, ok := a.cache[name]; ok {
		return code, nil
	}

	candidates := []string{
		filepath.Join(a.dir, name+".sol", name+".json"),
		filepath.Join(a.dir, name+".json"),
	}
	var raw []byte
	for _, p := range candidates {
		b, err := os.ReadFile(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("contracts: read artifact %s: %w", p, err)
		}
		raw = b
		break
	}
	if raw == nil {
		return nil, fmt.Errorf("contracts: no artifact for %s under %s", name, a.dir)
	}

	code, err := decodeBytecode(raw)
	if err != nil {
		return nil, fmt.Errorf("contracts: artifact %s: %w", name, err)
	}
	a.cache[name] = code
	return code, nil
}

func decodeBytecode(raw []byte) ([]byte, error) {
	var file artifactFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, err
	}
	if len(file.Bytecode) == 0 {
		return nil, errors.New("missing bytecode")
	}

	var hexCode string
	if err := json.Unmarshal(file.Bytecode, &hexCode); err != nil {
		var obj struct {
			Object string `json:"object"`
		}
		if err := json.Unmarshal(file.Bytecode, &obj); err != nil {
			return nil, fmt.Errorf("unrecognised bytecode field: %w", err)
		}
		hexCode = obj.Object
	}
	hexCode = strings.TrimSpace(hexCode)
	if hexCode == "" || hexCode == "0x" {
		return nil, errors.New("empty bytecode")
	}
	if strings.Contains(hexCode, "__$") {
		return nil, errors.New("bytecode has unlinked libraries")
	}
	return common.FromHex(hexCode), nil
}
