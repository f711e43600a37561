package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Paths manages all storage locations for the learning paths service
type Paths struct {
	baseDir   string
	dbDir     string
	imagesDir string
	daemonDir string
	logsDir   string
	configDir string
}

// NewPaths creates a new Paths instance
func NewPaths() (*Paths, error) {
	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}
	return newPathsAt(baseDir)
}

// NewPathsAt creates a Paths instance rooted at baseDir
func NewPathsAt(baseDir string) (*Paths, error) {
	if baseDir == "" {
		return NewPaths()
	}
	return newPathsAt(baseDir)
}

func newPathsAt(baseDir string) (*Paths, error) {
	p := &Paths{
		baseDir:   baseDir,
		dbDir:     filepath.Join(baseDir, "db"),
		imagesDir: filepath.Join(baseDir, "images"),
		daemonDir: filepath.Join(baseDir, "daemon"),
		logsDir:   filepath.Join(baseDir, "logs"),
	}

	// Config dir is separate
	configDir, err := getConfigDir()
	if err != nil {
		return nil, err
	}
	p.configDir = configDir

	return p, nil
}

// getBaseDir returns the base directory for service data
func getBaseDir() (string, error) {
	if dir := os.Getenv("LEARNINGPATHS_HOME"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	return filepath.Join(home, ".learningpaths"), nil
}

// getConfigDir returns the configuration directory
func getConfigDir() (string, error) {
	if dir := os.Getenv("LEARNINGPATHS_CONFIG"); dir != "" {
		return dir, nil
	}

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "learningpaths"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "learningpaths"), nil
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "learningpaths"), nil
		}
		return filepath.Join(home, "AppData", "Roaming", "learningpaths"), nil
	default: // Linux and others
		return filepath.Join(home, ".config", "learningpaths"), nil
	}
}

// Initialize creates all necessary directories
func (p *Paths) Initialize() error {
	dirs := []string{
		p.dbDir,
		p.imagesDir,
		p.daemonDir,
		p.logsDir,
		p.configDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// BaseDir returns the base directory
func (p *Paths) BaseDir() string {
	return p.baseDir
}

// DBDir returns the database directory
func (p *Paths) DBDir() string {
	return p.dbDir
}

// DBPath returns the default SQLite database file
func (p *Paths) DBPath() string {
	return filepath.Join(p.dbDir, "learningpaths.db")
}

// ImagesDir returns the directory learning path images are stored under
func (p *Paths) ImagesDir() string {
	return p.imagesDir
}

// ImagePath resolves an image upload path relative to the images directory
func (p *Paths) ImagePath(uploadPath string) string {
	return filepath.Join(p.imagesDir, filepath.FromSlash(uploadPath))
}

// DaemonDir returns the daemon state directory
func (p *Paths) DaemonDir() string {
	return p.daemonDir
}

// StatePath returns the daemon state file
func (p *Paths) StatePath() string {
	return filepath.Join(p.daemonDir, "state.json")
}

// PIDPath returns the daemon PID file
func (p *Paths) PIDPath() string {
	return filepath.Join(p.daemonDir, "daemon.pid")
}

// SigningKeyPath returns the file holding the generated token signing key
func (p *Paths) SigningKeyPath() string {
	return filepath.Join(p.daemonDir, "signing.key")
}

// LogsDir returns the log directory
func (p *Paths) LogsDir() string {
	return p.logsDir
}

// ConfigDir returns the config directory
func (p *Paths) ConfigDir() string {
	return p.configDir
}

// ConfigPath returns the main config file path
func (p *Paths) ConfigPath() string {
	return filepath.Join(p.configDir, "config.yaml")
}

// DiskUsage represents disk space usage
type DiskUsage struct {
	Total    int64 `json:"total"`
	Database int64 `json:"database"`
	Images   int64 `json:"images"`
	Logs     int64 `json:"logs"`
}

// GetDiskUsage returns disk usage statistics
func (p *Paths) GetDiskUsage() DiskUsage {
	usage := DiskUsage{
		Database: getDirSize(p.dbDir),
		Images:   getDirSize(p.imagesDir),
		Logs:     getDirSize(p.logsDir),
	}
	usage.Total = usage.Database + usage.Images + usage.Logs
	return usage
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) int64 {
	var size int64

	filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})

	return size
}

// RemoveImage deletes a stored image. Missing files are not an error.
func (p *Paths) RemoveImage(uploadPath string) error {
	if uploadPath == "" {
		return nil
	}
	if err := os.Remove(p.ImagePath(uploadPath)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove image %s: %w", uploadPath, err)
	}
	return nil
}
