package permission

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// GuestGroupName is the group new peers join unless configured otherwise.
const GuestGroupName = "guest"

// Group is a named set of policies keyed by permission key.
type Group struct {
	Name     string            `yaml:"name" json:"name" toml:"name"`
	Policies map[string]Policy `yaml:"policies" json:"policies" toml:"policies"`
}

func NewGroup(name string) Group {
	return Group{Name: name, Policies: make(map[string]Policy)}
}

// Set stores a policy, overwriting an existing one.
func (g Group) Set(key string, policy Policy) Group {
	if g.Policies == nil {
		g.Policies = make(map[string]Policy)
	}
	g.Policies[key] = policy
	return g
}

// Keys returns the policy keys sorted.
func (g Group) Keys() []string {
	keys := make([]string, 0, len(g.Policies))
	for k := range g.Policies {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy.
func (g Group) Clone() Group {
	out := NewGroup(g.Name)
	for k, p := range g.Policies {
		out.Policies[k] = p
	}
	return out
}

// GuestGroup returns the default policy set for unauthenticated peers. Every
// given component type gets its creation key allowed, for both live
// components and component templates.
func GuestGroup(componentTypes ...string) Group {
	g := NewGroup(GuestGroupName)
	for _, keys := range []KeySet{ObjectKeys, TemplateKeys} {
		g.Set(keys.CreateRemote, Limit(300))
		g.Set(keys.CreateLocal, Allow())
		g.Set(keys.DestroyOwn, Allow())
		g.Set(keys.DestroyLocal, Allow())
		g.Set(keys.DestroyOther, Deny())

		g.Set(keys.UnparentOnOwn, Allow())
		g.Set(keys.UnparentOnOther, Deny())
		g.Set(keys.SetOwnParentOnOwn, Allow())
		g.Set(keys.SetOtherParentOnOwn, Deny())
		g.Set(keys.SetOwnParentOnOther, Deny())
		g.Set(keys.SetOtherParentOnOther, Deny())

		g.Set(keys.CreateRemoteComponent, Limit(900))
		g.Set(keys.CreateRemoteComponentOnOwn, Allow())
		g.Set(keys.CreateRemoteComponentOnOther, Deny())
		g.Set(keys.CreateLocalComponent, Allow())

		g.Set(keys.DestroyOwnComponentOnOwn, Allow())
		g.Set(keys.DestroyOwnComponentOnOther, Deny())
		g.Set(keys.DestroyOtherComponentOnOwn, Deny())
		g.Set(keys.DestroyOtherComponentOnOther, Deny())
		g.Set(keys.DestroyLocalComponent, Allow())

		for _, t := range componentTypes {
			g.Set(keys.ComponentCreate(t), Allow())
		}
	}
	return g
}

type groupsFile struct {
	Groups []Group `yaml:"groups" json:"groups" toml:"groups"`
}

// LoadGroups reads groups from a YAML, JSON or TOML file, picked by extension.
func LoadGroups(path string) (map[string]Group, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read permission groups: %w", err)
	}
	return ParseGroups(data, filepath.Ext(path))
}

// ParseGroups decodes a groups document. ext is a file extension such as
// ".yaml".
func ParseGroups(data []byte, ext string) (map[string]Group, error) {
	var file groupsFile
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse yaml groups: %w", err)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&file); err != nil {
			return nil, fmt.Errorf("parse json groups: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &file); err != nil {
			return nil, fmt.Errorf("parse toml groups: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported permission file extension %q", ext)
	}

	out := make(map[string]Group, len(file.Groups))
	for _, g := range file.Groups {
		if g.Name == "" {
			return nil, fmt.Errorf("permission group without name")
		}
		if _, dup := out[g.Name]; dup {
			return nil, fmt.Errorf("permission group %q defined twice", g.Name)
		}
		if g.Policies == nil {
			g.Policies = make(map[string]Policy)
		}
		out[g.Name] = g
	}
	return out, nil
}
