package config

import (
	"errors"
	"os"
	"sync"

	"github.com/stratawm/strata/internal/core"
	"gopkg.in/yaml.v3"
)

func NewYAML(filePath string) YAML {
	return YAML{
		filePath: filePath,
	}
}

type YAML struct {
	filePath string
}

// Exists implements Driver.
func (y YAML) Exists() (bool, error) {
	return core.FileExists(y.filePath)
}

func (y YAML) Read() (Config, error) {
	file, err := os.Open(y.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig, nil
		}
		return Config{}, err
	}
	defer file.Close()

	var cfg Config
	err = yaml.NewDecoder(file).Decode(&cfg)
	return cfg, err
}

func (y YAML) Write(cfg Config) error {
	filePathTmp := y.filePath + ".tmp"
	file, err := os.OpenFile(filePathTmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}

	if err := yaml.NewEncoder(file).Encode(cfg); err != nil {
		file.Close()
		return err
	}
	file.Close()

	return os.Rename(filePathTmp, y.filePath)
}

// Memory keeps the config in process, for tests.
type Memory struct {
	mu  *sync.Mutex
	cfg *Config
}

func NewMemory(cfg Config) Memory {
	return Memory{
		mu:  &sync.Mutex{},
		cfg: &cfg,
	}
}

func (m Memory) Exists() (bool, error) {
	return true, nil
}

func (m Memory) Read() (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.cfg, nil
}

func (m Memory) Write(cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	*m.cfg = cfg
	return nil
}
