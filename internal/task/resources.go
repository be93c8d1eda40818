package task

// Resource Manager (C3). Grounded on
// original_source/api/resinkit_api/services/agent/flink/flink_resource_manager.py.

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/mitchellh/mapstructure"
)

// JarEntry describes one entry of resources.flink_jars / flink_cdc_jars
// (spec.md §4.2/§6): either {location} or {name, source: "download"}.
type JarEntry struct {
	Name     string `json:"name,omitempty" mapstructure:"name"`
	Location string `json:"location,omitempty" mapstructure:"location"`
	Source   string `json:"source,omitempty" mapstructure:"source"`
	Type     string `json:"type,omitempty" mapstructure:"type"` // "classpath" routes to ClasspathJars
}

// ResolvedResources is the output of ProcessResources.
type ResolvedResources struct {
	JarPaths      []string
	ClasspathJars []string
}

// ResourceManager resolves JAR references via a cache, then standard
// locations, then on-demand download (spec.md §4.6).
type ResourceManager struct {
	flinkHome    string
	flinkCDCHome string
	tempDir      string

	mu    sync.Mutex
	cache map[string]string // source URL/location -> resolved path

	client *http.Client
}

func NewResourceManager(flinkHome, flinkCDCHome, tempDirBase string) (*ResourceManager, error) {
	dir, err := os.MkdirTemp(tempDirBase, "agent-core-resources-")
	if err != nil {
		return nil, fmt.Errorf("resource manager: create temp dir: %w", err)
	}
	return &ResourceManager{
		flinkHome:    flinkHome,
		flinkCDCHome: flinkCDCHome,
		tempDir:      dir,
		cache:        make(map[string]string),
		client:       &http.Client{},
	}, nil
}

// ProcessResources resolves every entry of flink_jars and flink_cdc_jars.
func (r *ResourceManager) ProcessResources(flinkJars, flinkCDCJars []JarEntry) (ResolvedResources, error) {
	var out ResolvedResources
	for _, e := range append(append([]JarEntry{}, flinkJars...), flinkCDCJars...) {
		path, err := r.resolveJar(e)
		if err != nil {
			return out, err
		}
		if path == "" {
			continue
		}
		if e.Type == "classpath" {
			out.ClasspathJars = append(out.ClasspathJars, path)
		} else {
			out.JarPaths = append(out.JarPaths, path)
		}
	}
	return out, nil
}

func (r *ResourceManager) resolveJar(e JarEntry) (string, error) {
	key := e.Location
	if key == "" {
		key = e.Name
	}

	r.mu.Lock()
	if cached, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	filename := e.Name
	if filename == "" && e.Location != "" {
		filename = filepath.Base(e.Location)
	}

	if path := r.findInStandardLocations(filename); path != "" {
		r.remember(key, path)
		return path, nil
	}

	if e.Source == "download" && e.Location != "" {
		path, err := r.download(e.Location, filename)
		if err != nil {
			return "", err
		}
		if path != "" {
			r.remember(key, path)
		}
		return path, nil
	}

	return "", nil
}

func (r *ResourceManager) remember(key, path string) {
	r.mu.Lock()
	r.cache[key] = path
	r.mu.Unlock()
}

// findInStandardLocations walks FLINK_HOME/lib, FLINK_CDC_HOME/lib, then
// FLINK_HOME/plugins for filename, in that order (spec.md §4.6 step 3).
func (r *ResourceManager) findInStandardLocations(filename string) string {
	if filename == "" {
		return ""
	}
	candidates := []string{
		filepath.Join(r.flinkHome, "lib", filename),
		filepath.Join(r.flinkCDCHome, "lib", filename),
	}
	for _, c := range candidates {
		if fileExists(c) {
			return c
		}
	}

	pluginsDir := filepath.Join(r.flinkHome, "plugins")
	var found string
	filepath.WalkDir(pluginsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || found != "" {
			return nil
		}
		if !d.IsDir() && d.Name() == filename {
			found = path
		}
		return nil
	})
	return found
}

func (r *ResourceManager) download(url, filename string) (string, error) {
	resp, err := r.client.Get(url)
	if err != nil {
		return "", fmt.Errorf("resource manager: download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", nil
	}
	if filename == "" {
		filename = filepath.Base(url)
	}
	dest := filepath.Join(r.tempDir, filename)
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("resource manager: create %s: %w", dest, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return "", fmt.Errorf("resource manager: write %s: %w", dest, err)
	}
	return dest, nil
}

// Cleanup removes the per-manager temp directory.
func (r *ResourceManager) Cleanup() error {
	return os.RemoveAll(r.tempDir)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// decodeJarEntries decodes a loosely-typed []any (as found in a submitted
// task document's resources.flink_jars / resources.flink_cdc_jars) into
// typed JarEntry values via mapstructure, generalizing the teacher's
// TaskConfig/ToPluginConfig map-decode idiom.
func decodeJarEntries(v any) []JarEntry {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]JarEntry, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		var e JarEntry
		if err := mapstructure.Decode(m, &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
