package manifest

import (
	"strings"
)

// Conventional marker roles. Roles are free-form; these are the ones the
// built-in stage templates use.
const (
	RoleNuclear   = "nuclear"
	RoleCytoplasm = "cytoplasm"
	RoleMembrane  = "membrane"
	RoleIgnore    = "ignore"
)

// Marker is one panel row.
type Marker struct {
	Name string
	Role string
}

// Panel is an ordered marker → role mapping.
type Panel struct {
	Path    string
	markers []Marker
	index   map[string]int
}

// NewPanel builds a panel from ordered markers. Names must be unique.
func NewPanel(path string, markers []Marker) (*Panel, error) {
	p := &Panel{Path: path, index: make(map[string]int, len(markers))}
	for i, m := range markers {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			return nil, newError(path, 0, "marker %d has an empty name", i+1)
		}
		if _, dup := p.index[name]; dup {
			return nil, newError(path, 0, "duplicate marker %q", name)
		}
		p.index[name] = len(p.markers)
		p.markers = append(p.markers, Marker{Name: name, Role: strings.ToLower(strings.TrimSpace(m.Role))})
	}
	if len(p.markers) == 0 {
		return nil, newError(path, 0, "panel defines no markers")
	}
	return p, nil
}

// Markers returns a copy of the markers in file order.
func (p *Panel) Markers() []Marker {
	out := make([]Marker, len(p.markers))
	copy(out, p.markers)
	return out
}

// Len returns the number of markers.
func (p *Panel) Len() int { return len(p.markers) }

// Has reports whether the panel defines the marker.
func (p *Panel) Has(name string) bool {
	_, ok := p.index[strings.TrimSpace(name)]
	return ok
}

// Role returns the role assigned to a marker.
func (p *Panel) Role(name string) (string, bool) {
	i, ok := p.index[strings.TrimSpace(name)]
	if !ok {
		return "", false
	}
	return p.markers[i].Role, true
}

// ByRole returns the markers carrying role in panel order, skipping any
// name listed in exclude.
func (p *Panel) ByRole(role string, exclude []string) []string {
	role = strings.ToLower(strings.TrimSpace(role))
	skip := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		skip[name] = struct{}{}
	}
	var out []string
	for _, m := range p.markers {
		if m.Role != role {
			continue
		}
		if _, excluded := skip[m.Name]; excluded {
			continue
		}
		out = append(out, m.Name)
	}
	return out
}
