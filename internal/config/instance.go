package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tgifai/butler/internal/consts"
)

const (
	lockRetryInterval  = 50 * time.Millisecond
	lockAcquireTimeout = 5 * time.Second
	lockStaleAfter     = 30 * time.Second
	maxBackupFiles     = 5
)

var defaultManager = &InstanceManager{}

// InstanceManager owns the process-wide config snapshot. Callers always get a
// clone, so mutations never leak back into the shared copy.
type InstanceManager struct {
	path   string
	loaded bool
	cfg    *Config

	mu sync.RWMutex
}

func (ins *InstanceManager) Get() (*Config, error) {
	ins.mu.RLock()
	defer ins.mu.RUnlock()

	if !ins.loaded || ins.cfg == nil {
		return nil, fmt.Errorf("config is not loaded")
	}
	return ins.cfg.Clone()
}

// Path returns the file the current snapshot was loaded from or will be saved to.
func (ins *InstanceManager) Path() string {
	ins.mu.RLock()
	defer ins.mu.RUnlock()
	return ins.path
}

func (ins *InstanceManager) Load(path string) (*Config, error) {
	ins.mu.Lock()
	defer ins.mu.Unlock()

	path = strings.TrimSpace(path)
	if path == "" {
		path = ins.path
	}
	if path == "" {
		path = consts.DefaultConfigPath()
	}

	cfg, err := loadConfigFile(path)
	if err != nil {
		return nil, err
	}

	ins.path = path
	ins.cfg = cfg
	ins.loaded = true
	return cfg.Clone()
}

// Set validates cfg and installs it as the current snapshot bound to path,
// without touching disk. Use Save to persist it.
func (ins *InstanceManager) Set(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	draft, err := cfg.Clone()
	if err != nil {
		return err
	}
	if err := draft.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	ins.mu.Lock()
	defer ins.mu.Unlock()
	if p := strings.TrimSpace(path); p != "" {
		ins.path = p
	}
	if ins.path == "" {
		ins.path = consts.DefaultConfigPath()
	}
	ins.cfg = draft
	ins.loaded = true
	return nil
}

// Save writes the current snapshot as YAML, keeping a few timestamped backups
// of the file it replaces.
func (ins *InstanceManager) Save() error {
	ins.mu.Lock()
	defer ins.mu.Unlock()

	if !ins.loaded || ins.cfg == nil {
		return fmt.Errorf("config is not loaded")
	}
	return writeConfigFile(ins.path, ins.cfg)
}

func Load(path string) (*Config, error) {
	return defaultManager.Load(path)
}

func Get() (*Config, error) {
	return defaultManager.Get()
}

func Set(path string, cfg *Config) error {
	return defaultManager.Set(path, cfg)
}

func Save() error {
	return defaultManager.Save()
}

func Path() string {
	return defaultManager.Path()
}

func loadConfigFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func writeConfigFile(path string, cfg *Config) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config path is required")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	unlock, err := acquireFileLock(path+".lock", lockAcquireTimeout, lockStaleAfter)
	if err != nil {
		return fmt.Errorf("acquire config file lock: %w", err)
	}
	defer unlock()

	raw, err := marshalConfigYAML(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// config files may carry bot tokens and api keys
	mode := os.FileMode(0o600)
	if info, statErr := os.Stat(path); statErr == nil {
		mode = info.Mode().Perm()
		if err := backupConfigFile(path, mode); err != nil {
			return err
		}
		go pruneBackups(path)
	} else if !os.IsNotExist(statErr) {
		return fmt.Errorf("stat config file: %w", statErr)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config file: %w", err)
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return fmt.Errorf("chmod temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	committed = true
	return nil
}

func acquireFileLock(lockPath string, timeout, staleAfter time.Duration) (func(), error) {
	start := time.Now()
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
			_ = f.Close()
			return func() { _ = os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}

		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > staleAfter {
			_ = os.Remove(lockPath)
			continue
		}
		if time.Since(start) > timeout {
			return nil, fmt.Errorf("lock timeout after %s", timeout)
		}
		time.Sleep(lockRetryInterval)
	}
}

func backupConfigFile(path string, mode os.FileMode) error {
	backupPath := fmt.Sprintf("%s.%s", path, time.Now().Format("060102150405"))
	for i := 1; ; i++ {
		if _, err := os.Stat(backupPath); os.IsNotExist(err) {
			break
		} else if err != nil {
			return fmt.Errorf("stat backup path: %w", err)
		}
		backupPath = fmt.Sprintf("%s.%s.%d", path, time.Now().Format("060102150405"), i)
	}

	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config for backup: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(backupPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode)
	if err != nil {
		return fmt.Errorf("create config backup: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(backupPath)
		return fmt.Errorf("copy config backup: %w", err)
	}
	return dst.Close()
}

func pruneBackups(path string) {
	files, err := filepath.Glob(path + ".*")
	if err != nil {
		return
	}
	backups := files[:0]
	for _, f := range files {
		if strings.HasSuffix(f, ".lock") || strings.Contains(f, ".tmp.") {
			continue
		}
		backups = append(backups, f)
	}
	if len(backups) <= maxBackupFiles {
		return
	}
	sort.Strings(backups)
	for _, f := range backups[:len(backups)-maxBackupFiles] {
		_ = os.Remove(f)
	}
}

func marshalConfigYAML(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(cfg); err != nil {
		_ = encoder.Close()
		return nil, err
	}
	if err := encoder.Close(); err != nil {
		return nil, err
	}
	return []byte(strings.TrimRight(buf.String(), "\n") + "\n"), nil
}
