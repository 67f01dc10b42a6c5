package emulator

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xxxsen/romget/internal/config"
	"github.com/xxxsen/romget/internal/rominfo"
)

//go:embed data/*.json
var embeddedFiles embed.FS

// BuiltIns is the catalog of built-in emulator definitions shipped with the
// binary.
var BuiltIns = mustLoadBuiltIns("data/builtin_emulators.json")

// ProfileKind tells custom profiles from built-in ones.
type ProfileKind int

const (
	// Custom profiles carry their own extension list.
	Custom ProfileKind = iota
	// BuiltIn profiles borrow the extensions of a built-in definition,
	// matched by name.
	BuiltIn
)

// Profile is one way of running an emulator.
type Profile struct {
	Kind       ProfileKind
	ID         string
	Name       string
	Extensions []string
}

// Emulator is a user configured emulator.
type Emulator struct {
	ID              string
	BuiltInConfigID string
	Profiles        []Profile
}

// BuiltInProfile is a profile of a built-in emulator definition.
type BuiltInProfile struct {
	Name       string   `json:"name"`
	Extensions []string `json:"extensions"`
}

// BuiltInEmulator is a built-in emulator definition.
type BuiltInEmulator struct {
	ID       string           `json:"id"`
	Profiles []BuiltInProfile `json:"profiles"`
}

// Catalog answers which file extensions a mapped profile can launch.
type Catalog interface {
	// SupportedExtensions returns the extensions of the mapped profile, or
	// nil when the mapping cannot be resolved, meaning "no filter".
	SupportedExtensions(m *rominfo.Mapping) []string
}

// Registry is a Catalog over configured emulators and built-in definitions.
type Registry struct {
	emulators map[string]Emulator
	builtins  map[string]BuiltInEmulator
}

// NewRegistry builds a registry.
func NewRegistry(emulators []Emulator, builtins []BuiltInEmulator) *Registry {
	r := &Registry{
		emulators: make(map[string]Emulator, len(emulators)),
		builtins:  make(map[string]BuiltInEmulator, len(builtins)),
	}
	for _, e := range emulators {
		r.emulators[e.ID] = e
	}
	for _, b := range builtins {
		r.builtins[b.ID] = b
	}
	return r
}

// FromConfig converts the emulator section of the config.
func FromConfig(cfgs []config.EmulatorConfig) []Emulator {
	emus := make([]Emulator, 0, len(cfgs))
	for _, c := range cfgs {
		e := Emulator{ID: c.ID, BuiltInConfigID: c.BuiltInConfigID}
		for _, p := range c.Profiles {
			kind := BuiltIn
			if p.Custom {
				kind = Custom
			}
			e.Profiles = append(e.Profiles, Profile{
				Kind:       kind,
				ID:         p.ID,
				Name:       p.Name,
				Extensions: p.Extensions,
			})
		}
		emus = append(emus, e)
	}
	return emus
}

// SupportedExtensions implements Catalog.
func (r *Registry) SupportedExtensions(m *rominfo.Mapping) []string {
	if m == nil {
		return nil
	}
	emu, ok := r.emulators[m.EmulatorID]
	if !ok {
		return nil
	}
	var profile *Profile
	for i := range emu.Profiles {
		if emu.Profiles[i].ID == m.ProfileID {
			profile = &emu.Profiles[i]
			break
		}
	}
	if profile == nil {
		return nil
	}
	switch profile.Kind {
	case Custom:
		return normalize(profile.Extensions)
	case BuiltIn:
		def, ok := r.builtins[emu.BuiltInConfigID]
		if !ok {
			return nil
		}
		for _, p := range def.Profiles {
			if p.Name == profile.Name {
				return normalize(p.Extensions)
			}
		}
	}
	return nil
}

// normalize copies exts, dropping blanks and leading dots.
func normalize(exts []string) []string {
	if len(exts) == 0 {
		return nil
	}
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
		if ext == "" {
			continue
		}
		out = append(out, ext)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func mustLoadBuiltIns(name string) []BuiltInEmulator {
	data, err := embeddedFiles.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("read builtin emulators: %v", err))
	}
	var out []BuiltInEmulator
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("decode builtin emulators: %v", err))
	}
	return out
}
