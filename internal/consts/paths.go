package consts

import (
	"os"
	"path/filepath"
)

const (
	ButlerDirName      = ".butler"
	ConfigFileName     = "config.yaml"
	DefaultWorkspaceID = "default"
	JobStoreFileName   = "jobs.json"
)

func ButlerHomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ButlerDirName)
}

func DefaultConfigPath() string {
	return filepath.Join(ButlerHomeDir(), ConfigFileName)
}

func DefaultWorkspaceDir() string {
	return filepath.Join(ButlerHomeDir(), "workspaces", DefaultWorkspaceID)
}

func DefaultJobStorePath() string {
	return filepath.Join(ButlerHomeDir(), "cronjob", JobStoreFileName)
}

func DefaultLogFile() string {
	return filepath.Join(ButlerHomeDir(), "logs", "butler.log")
}
