package device

import (
	"fmt"
	"os"
	"sync"

	"github.com/glowlink-io/glowlink/internal/device/transport"
)

// defaultConfig is the factory configuration register payload.
var defaultConfig = []byte(`{"name":"glowlamp","brightness":128,"warmth":50}`)

// fileConfigStore persists the configuration register to a single file,
// written atomically so a crash mid-save keeps the previous config.
type fileConfigStore struct {
	mu   sync.Mutex
	path string
}

var _ transport.ConfigStore = (*fileConfigStore)(nil)

func newFileConfigStore(path string) (*fileConfigStore, error) {
	s := &fileConfigStore{path: path}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.Save(defaultConfig); err != nil {
			return nil, fmt.Errorf("seed config register: %w", err)
		}
	}
	return s, nil
}

func (s *fileConfigStore) Load() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return defaultConfig
	}
	return data
}

func (s *fileConfigStore) Save(cfg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, cfg, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
