// Package manifest reads the openFPGA core.json that names a core and
// drives the package layout.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
)

// DefaultBitstream is the bitstream name used when the manifest declares
// no core entry.
const DefaultBitstream = "bitstream.rbf_r"

// DateLayout is the format of metadata.date_release.
const DateLayout = "2006-01-02"

type Metadata struct {
	PlatformIDs []string `json:"platform_ids"`
	ShortName   string   `json:"shortname"`
	Description string   `json:"description,omitempty"`
	Author      string   `json:"author"`
	URL         string   `json:"url,omitempty"`
	Version     string   `json:"version"`
	DateRelease string   `json:"date_release"`
}

type Core struct {
	Name     string `json:"name,omitempty"`
	ID       int    `json:"id"`
	Filename string `json:"filename"`
}

type Manifest struct {
	Core struct {
		Magic    string   `json:"magic"`
		Metadata Metadata `json:"metadata"`
		Cores    []Core   `json:"cores,omitempty"`
	} `json:"core"`
}

// Parse accepts JSON with comments and trailing commas.
func Parse(raw []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(jsonc.ToJSON(raw), &m); err != nil {
		return Manifest{}, fmt.Errorf("parse core config: %w", err)
	}
	return m, nil
}

// Load reads and validates the manifest at p.
func Load(p string) (Manifest, error) {
	raw, err := os.ReadFile(p)
	if err != nil {
		return Manifest{}, fmt.Errorf("read core config: %w", err)
	}
	m, err := Parse(raw)
	if err != nil {
		return Manifest{}, fmt.Errorf("%s: %w", p, err)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, fmt.Errorf("%s: %w", p, err)
	}
	return m, nil
}

func (m *Manifest) Validate() error {
	md := &m.Core.Metadata
	fields := []struct {
		name  string
		value *string
	}{
		{"author", &md.Author},
		{"shortname", &md.ShortName},
		{"version", &md.Version},
		{"date_release", &md.DateRelease},
	}
	for _, f := range fields {
		v := strings.TrimSpace(*f.value)
		if v == "" {
			return fmt.Errorf("core.metadata.%s is required", f.name)
		}
		if err := checkName(v); err != nil {
			return fmt.Errorf("core.metadata.%s: %w", f.name, err)
		}
		*f.value = v
	}
	if _, err := time.Parse(DateLayout, md.DateRelease); err != nil {
		return fmt.Errorf("core.metadata.date_release %q: expected YYYY-MM-DD", md.DateRelease)
	}
	if len(md.PlatformIDs) == 0 {
		return errors.New("core.metadata.platform_ids needs at least one platform")
	}
	for _, id := range md.PlatformIDs {
		if err := checkName(id); err != nil {
			return fmt.Errorf("core.metadata.platform_ids: %w", err)
		}
	}
	for i := range m.Core.Cores {
		if m.Core.Cores[i].Filename == "" {
			continue
		}
		cleaned, err := sanitizePath(m.Core.Cores[i].Filename)
		if err != nil {
			return fmt.Errorf("core.cores[%d].filename: %w", i, err)
		}
		m.Core.Cores[i].Filename = cleaned
	}
	return nil
}

// CoreName is the folder name under Cores/, author.shortname.
func (m Manifest) CoreName() string {
	return m.Core.Metadata.Author + "." + m.Core.Metadata.ShortName
}

// Bitstream is the packaged bitstream path relative to the core folder.
func (m Manifest) Bitstream() string {
	if len(m.Core.Cores) == 0 || m.Core.Cores[0].Filename == "" {
		return DefaultBitstream
	}
	return m.Core.Cores[0].Filename
}

// Released is the release date at midnight UTC.
func (m Manifest) Released() time.Time {
	t, err := time.Parse(DateLayout, m.Core.Metadata.DateRelease)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Siblings lists the *.json files next to configFile, configFile included,
// sorted by name.
func Siblings(configFile string) ([]string, error) {
	dir := filepath.Dir(configFile)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list core config folder: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// checkName rejects values that would change the package layout when used
// as a path element.
func checkName(v string) error {
	if strings.ContainsAny(v, `/\`) || v == "." || v == ".." {
		return fmt.Errorf("%q cannot be used in a file name", v)
	}
	return nil
}

func sanitizePath(p string) (string, error) {
	raw := strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if raw == "" {
		return "", errors.New("path cannot be empty")
	}
	if strings.HasPrefix(raw, "/") || hasWindowsDrive(raw) {
		return "", fmt.Errorf("absolute path %q not allowed", p)
	}
	cleaned := path.Clean(raw)
	if cleaned == "." {
		return "", errors.New("path cannot be current directory")
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("path traversal %q not allowed", p)
	}
	return cleaned, nil
}

func hasWindowsDrive(p string) bool {
	return len(p) >= 2 && p[1] == ':'
}
