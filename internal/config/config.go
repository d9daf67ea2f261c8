// Package config loads the entry definitions: a JSON document keyed
// by entry name, each value naming an upstream repository, an
// optional fork remote, an ordered list of merge refs, and
// workspace-inclusion globs.
//
// The wire format is a plain JSON object, so this package uses
// encoding/json directly rather than reaching for a third-party
// codec. See DESIGN.md.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/forkyard/forkyard/internal/forkerr"
)

// Workspace holds the glob lists that describe which paths of a built
// clone belong to the external workspace manifest. Regenerating that
// manifest is out of scope; validating the globs here catches
// malformed patterns early.
type Workspace struct {
	Include []string `json:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
}

// Entry is one managed fork.
type Entry struct {
	Name      string    `json:"-"`
	Upstream  string    `json:"upstream"`
	Fork      string    `json:"fork,omitempty"`
	Refs      []string  `json:"refs,omitempty"`
	Workspace Workspace `json:"workspace,omitempty"`
}

// ReferenceOnly reports whether the entry has no refs configured,
// making it a candidate for the shallow-clone replay path.
func (e *Entry) ReferenceOnly() bool {
	return len(e.Refs) == 0
}

// ValidateWorkspace checks that every glob pattern in the entry's
// workspace include/exclude lists is syntactically well-formed, so
// malformed patterns are caught at config-load time rather than
// silently matching nothing at manifest-regeneration time (an
// external concern this core never performs).
func (e *Entry) ValidateWorkspace() error {
	for _, pat := range e.Workspace.Include {
		if _, err := filepath.Match(pat, ""); err != nil {
			return forkerr.New(forkerr.KindConfig, "fix the include glob and retry",
				"entry %q: invalid include glob %q: %v", e.Name, pat, err)
		}
	}
	for _, pat := range e.Workspace.Exclude {
		if _, err := filepath.Match(pat, ""); err != nil {
			return forkerr.New(forkerr.KindConfig, "fix the exclude glob and retry",
				"entry %q: invalid exclude glob %q: %v", e.Name, pat, err)
		}
	}
	return nil
}

// Store is a loaded configuration document.
type Store struct {
	entries map[string]*Entry
	selfName string
}

// Load reads and parses the JSON configuration document at path.
// selfName is excluded from AllNames (the tool never manages itself).
func Load(path string, selfName string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, forkerr.New(forkerr.KindConfig, "create a config file at "+path,
				"config file %s does not exist", path)
		}
		return nil, forkerr.Wrap(forkerr.KindConfig, "check file permissions", err,
			"reading config %s", path)
	}
	raw := map[string]*Entry{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, forkerr.Wrap(forkerr.KindConfig, "fix the JSON syntax", err,
			"malformed config %s", path)
	}
	for name, e := range raw {
		if e.Upstream == "" {
			return nil, forkerr.New(forkerr.KindConfig, "add an \"upstream\" URL",
				"entry %q is missing a required upstream url", name)
		}
		e.Name = name
		if err := e.ValidateWorkspace(); err != nil {
			return nil, err
		}
	}
	return &Store{entries: raw, selfName: selfName}, nil
}

// Get returns the entry by name.
func (s *Store) Get(name string) (*Entry, error) {
	e, ok := s.entries[name]
	if !ok {
		return nil, forkerr.New(forkerr.KindConfig, "check the entry name against the config file",
			"no such entry %q", name)
	}
	return e, nil
}

// AllNames returns every configured entry name, sorted, excluding the
// tool's own name.
func (s *Store) AllNames() []string {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		if name == s.selfName {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
