package manifest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"imcflow/internal/config"
)

// Panel table column names. "marker" is accepted as an alias for "channel".
const (
	panelChannelColumn = "channel"
	panelMarkerColumn  = "marker"
	panelRoleColumn    = "role"
)

// Sample is one enabled manifest row.
type Sample struct {
	Name            string
	Input           string
	PanelPath       string
	ExcludeChannels []string
	Attributes      map[string]string
	Line            int
}

// Options names the manifest columns. Empty optional columns disable the
// corresponding override.
type Options struct {
	SampleColumn  string
	InputColumn   string
	PanelColumn   string
	ExcludeColumn string
	ToggleColumn  string
}

// OptionsFromConfig maps the [manifest] config section onto loader options.
func OptionsFromConfig(cfg config.Manifest) Options {
	return Options{
		SampleColumn:  cfg.SampleColumn,
		InputColumn:   cfg.InputColumn,
		PanelColumn:   cfg.PanelColumn,
		ExcludeColumn: cfg.ExcludeColumn,
		ToggleColumn:  cfg.ToggleColumn,
	}
}

// Manifest is the loaded sample table plus the shared panel.
type Manifest struct {
	Path    string
	Samples []Sample
	// Disabled lists sample names switched off by the toggle column.
	Disabled []string
	Panel    *Panel
	panels   map[string]*Panel
}

// PanelFor returns the panel a sample should be rendered against.
func (m *Manifest) PanelFor(s Sample) *Panel {
	if s.PanelPath != "" {
		if p, ok := m.panels[s.PanelPath]; ok {
			return p
		}
	}
	return m.Panel
}

// Load reads the manifest and the shared panel. Samples keep file order.
func Load(manifestPath, panelPath string, opts Options) (*Manifest, error) {
	if strings.TrimSpace(opts.SampleColumn) == "" || strings.TrimSpace(opts.InputColumn) == "" {
		return nil, newError(manifestPath, 0, "sample and input column names must be configured")
	}
	panel, err := LoadPanel(panelPath)
	if err != nil {
		return nil, err
	}

	header, rows, err := readTable(manifestPath)
	if err != nil {
		return nil, err
	}
	cols := indexHeader(header)
	sampleIdx, ok := cols[opts.SampleColumn]
	if !ok {
		return nil, newError(manifestPath, 1, "required column %q is missing", opts.SampleColumn)
	}
	inputIdx, ok := cols[opts.InputColumn]
	if !ok {
		return nil, newError(manifestPath, 1, "required column %q is missing", opts.InputColumn)
	}
	optional := func(name string) int {
		if name == "" {
			return -1
		}
		if i, ok := cols[name]; ok {
			return i
		}
		return -1
	}
	panelIdx := optional(opts.PanelColumn)
	excludeIdx := optional(opts.ExcludeColumn)
	toggleIdx := optional(opts.ToggleColumn)
	reserved := map[int]struct{}{sampleIdx: {}, inputIdx: {}, panelIdx: {}, excludeIdx: {}, toggleIdx: {}}

	baseDir := filepath.Dir(manifestPath)
	m := &Manifest{
		Path:   manifestPath,
		Panel:  panel,
		panels: map[string]*Panel{},
	}
	seen := make(map[string]int, len(rows))

	for i, row := range rows {
		line := i + 2
		name := strings.TrimSpace(row[sampleIdx])
		if name == "" {
			return nil, newError(manifestPath, line, "empty sample identifier")
		}
		if first, dup := seen[name]; dup {
			return nil, newError(manifestPath, line, "sample %q repeats (first defined on line %d)", name, first)
		}
		seen[name] = line

		if toggleIdx >= 0 && !toggleEnabled(row[toggleIdx]) {
			m.Disabled = append(m.Disabled, name)
			continue
		}

		input := strings.TrimSpace(row[inputIdx])
		if input == "" {
			return nil, newError(manifestPath, line, "sample %q has an empty %s", name, opts.InputColumn)
		}
		sample := Sample{
			Name:       name,
			Input:      resolvePath(baseDir, input),
			Attributes: map[string]string{},
			Line:       line,
		}

		samplePanel := panel
		if panelIdx >= 0 {
			if override := strings.TrimSpace(row[panelIdx]); override != "" {
				sample.PanelPath = resolvePath(baseDir, override)
				samplePanel, err = m.loadOverride(sample.PanelPath)
				if err != nil {
					return nil, err
				}
			}
		}

		if excludeIdx >= 0 {
			sample.ExcludeChannels = splitList(row[excludeIdx])
			for _, channel := range sample.ExcludeChannels {
				if !samplePanel.Has(channel) {
					return nil, newError(manifestPath, line, "sample %q excludes channel %q which panel %s does not define", name, channel, samplePanel.Path)
				}
			}
		}

		for idx, column := range header {
			if _, skip := reserved[idx]; skip {
				continue
			}
			sample.Attributes[column] = strings.TrimSpace(row[idx])
		}
		m.Samples = append(m.Samples, sample)
	}
	return m, nil
}

func (m *Manifest) loadOverride(path string) (*Panel, error) {
	if p, ok := m.panels[path]; ok {
		return p, nil
	}
	p, err := LoadPanel(path)
	if err != nil {
		return nil, err
	}
	m.panels[path] = p
	return p, nil
}

// LoadPanel reads a marker → role table.
func LoadPanel(path string) (*Panel, error) {
	header, rows, err := readTable(path)
	if err != nil {
		return nil, err
	}
	cols := indexHeader(header)
	nameIdx, ok := cols[panelChannelColumn]
	if !ok {
		nameIdx, ok = cols[panelMarkerColumn]
	}
	if !ok {
		return nil, newError(path, 1, "required column %q is missing", panelChannelColumn)
	}
	roleIdx, ok := cols[panelRoleColumn]
	if !ok {
		return nil, newError(path, 1, "required column %q is missing", panelRoleColumn)
	}
	markers := make([]Marker, 0, len(rows))
	for i, row := range rows {
		name := strings.TrimSpace(row[nameIdx])
		if name == "" {
			return nil, newError(path, i+2, "empty marker name")
		}
		markers = append(markers, Marker{Name: name, Role: row[roleIdx]})
	}
	return NewPanel(path, markers)
}

// CheckInputs verifies every enabled sample's input exists. All missing
// inputs are reported together.
func (m *Manifest) CheckInputs() error {
	var missing []string
	for _, s := range m.Samples {
		if _, err := os.Stat(s.Input); err != nil {
			missing = append(missing, fmt.Sprintf("%s (%s)", s.Name, s.Input))
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return newError(m.Path, 0, "input paths do not exist: %s", strings.Join(missing, ", "))
}

// Names returns the enabled sample names in manifest order.
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.Samples))
	for _, s := range m.Samples {
		names = append(names, s.Name)
	}
	return names
}

func readTable(path string) ([]string, [][]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil, newError(path, 0, "path is empty")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, &Error{Path: path, Reason: "open", Err: err}
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.Comment = '#'
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, newError(path, 1, "file is empty")
	}
	if err != nil {
		return nil, nil, &Error{Path: path, Line: 1, Reason: "read header", Err: err}
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var rows [][]string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			line := 0
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				line = parseErr.Line
			}
			return nil, nil, &Error{Path: path, Line: line, Reason: "read row", Err: err}
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

func indexHeader(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	return cols
}

func toggleEnabled(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "0", "false", "no", "off", "n", "f":
		return false
	default:
		return true
	}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func resolvePath(base, value string) string {
	if filepath.IsAbs(value) {
		return filepath.Clean(value)
	}
	return filepath.Join(base, value)
}
