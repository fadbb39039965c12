package blockchain

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/campuspay/campuspay/pkg/logger"
)

// Names of the built-in campus contract ABIs
const (
	ABIExpense   = "expense"
	ABITicketing = "ticketing"
	ABIFundraise = "fundraise"
)

//go:embed abis/*.json
var builtinABIs embed.FS

// ABIManager manages smart contract ABIs
type ABIManager struct {
	mu      sync.RWMutex
	abisDir string
	abis    map[string]*abi.ABI
}

// NewABIManager loads the built-in ABIs and then any ABIs found in
// workspaceDir/abis, which take precedence. An empty workspaceDir skips disk.
func NewABIManager(workspaceDir string) (*ABIManager, error) {
	manager := &ABIManager{
		abis: make(map[string]*abi.ABI),
	}

	if err := manager.loadBuiltin(); err != nil {
		return nil, fmt.Errorf("failed to load built-in ABIs: %w", err)
	}

	if workspaceDir == "" {
		return manager, nil
	}

	manager.abisDir = filepath.Join(workspaceDir, "abis")
	if err := os.MkdirAll(manager.abisDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ABIs directory: %w", err)
	}

	if err := manager.loadDir(); err != nil {
		return nil, fmt.Errorf("failed to load ABIs: %w", err)
	}

	return manager, nil
}

// UploadABI parses and stores a new ABI
func (m *ABIManager) UploadABI(name, abiJSON string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	parsedABI, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return fmt.Errorf("invalid ABI JSON: %w", err)
	}

	if m.abisDir != "" {
		abiFile := filepath.Join(m.abisDir, name+".json")
		if err := os.WriteFile(abiFile, []byte(abiJSON), 0o644); err != nil {
			return fmt.Errorf("failed to save ABI file: %w", err)
		}
	}

	m.abis[name] = &parsedABI
	return nil
}

// GetABI gets an ABI by name
func (m *ABIManager) GetABI(name string) (*abi.ABI, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	parsed, ok := m.abis[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrABINotFound, name)
	}

	return parsed, nil
}

// ListABIs lists all available ABIs in name order
func (m *ABIManager) ListABIs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.abis))
	for name := range m.abis {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *ABIManager) loadBuiltin() error {
	entries, err := builtinABIs.ReadDir("abis")
	if err != nil {
		return err
	}

	for _, entry := range entries {
		data, err := builtinABIs.ReadFile("abis/" + entry.Name())
		if err != nil {
			return err
		}
		parsed, err := abi.JSON(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("%s: %w", entry.Name(), err)
		}
		m.abis[strings.TrimSuffix(entry.Name(), ".json")] = &parsed
	}
	return nil
}

// loadDir loads all ABIs from disk, skipping unreadable files
func (m *ABIManager) loadDir() error {
	files, err := os.ReadDir(m.abisDir)
	if err != nil {
		return err
	}

	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}

		name := strings.TrimSuffix(file.Name(), ".json")
		data, err := os.ReadFile(filepath.Join(m.abisDir, file.Name()))
		if err != nil {
			continue
		}

		parsed, err := abi.JSON(bytes.NewReader(data))
		if err != nil {
			logger.WarnCF("blockchain", "Skipping invalid ABI file", map[string]any{
				"file":  file.Name(),
				"error": err.Error(),
			})
			continue
		}

		m.abis[name] = &parsed
	}

	return nil
}
