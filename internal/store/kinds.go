package store

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ClassAll disables result-type filtering for any known namespace.
const ClassAll = "all"

// Descriptor maps a record kind to the index holding its detail records.
type Descriptor struct {
	Namespace string `yaml:"namespace"`
	Subtype   string `yaml:"subtype"`
	Version   string `yaml:"version,omitempty"`
	Index     string `yaml:"index"`

	// Generic descriptors were created on first use and carry no mapping.
	Generic bool `yaml:"-"`
}

// Key joins namespace, subtype and version lower-cased.
func (d Descriptor) Key() string {
	return kindKey(d.Namespace, d.Subtype, d.Version)
}

func kindKey(namespace, subtype, version string) string {
	key := namespace + "_" + subtype
	if version != "" {
		key += "_" + version
	}
	return strings.ToLower(key)
}

// GenericIndex names the index of a kind with no registered descriptor.
func GenericIndex(namespace, subtype string) string {
	return strings.ToLower(namespace + "_" + subtype + "_results")
}

// KindsFile is the YAML layout of a kinds file.
type KindsFile struct {
	Kinds   []Descriptor                   `yaml:"kinds"`
	Classes map[string]map[string][]string `yaml:"classes"`
}

// DefaultClasses is the result-class table used when no kinds file is given.
func DefaultClasses() map[string]map[string][]string {
	return map[string]map[string][]string{
		"mx": {
			"data":  {"mx:index", "mx:integrate"},
			"snap":  {"mx:index+strategy"},
			"sweep": {"mx:integrate"},
			"merge": {},
			"mr":    {},
			"sad":   {},
			"mad":   {},
		},
	}
}

// Kinds is the registry of record-kind descriptors and result classes.
// Lookups of unregistered kinds register a generic descriptor on first use.
type Kinds struct {
	mu      sync.RWMutex
	kinds   map[string]Descriptor
	classes map[string]map[string][]string
}

// NewKinds returns a registry holding the default class table.
func NewKinds() *Kinds {
	return &Kinds{
		kinds:   make(map[string]Descriptor),
		classes: DefaultClasses(),
	}
}

// LoadKinds reads descriptors and classes from a YAML file. Classes in the
// file replace the defaults namespace by namespace.
func LoadKinds(path string) (*Kinds, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read kinds file: %w", err)
	}
	return ParseKinds(data)
}

// ParseKinds parses the YAML kinds layout.
func ParseKinds(data []byte) (*Kinds, error) {
	var file KindsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse kinds file: %w", err)
	}

	k := NewKinds()
	for _, d := range file.Kinds {
		if d.Namespace == "" || d.Subtype == "" {
			return nil, fmt.Errorf("kind needs namespace and subtype: %+v", d)
		}
		if err := k.Register(d); err != nil {
			return nil, err
		}
	}
	for ns, classes := range file.Classes {
		lowered := make(map[string][]string, len(classes))
		for class, types := range classes {
			lowered[strings.ToLower(class)] = types
		}
		k.classes[strings.ToLower(ns)] = lowered
	}
	return k, nil
}

// Register adds a specific descriptor. A missing index defaults to the
// generic name.
func (k *Kinds) Register(d Descriptor) error {
	d.Namespace = strings.ToLower(d.Namespace)
	d.Subtype = strings.ToLower(d.Subtype)
	d.Version = strings.ToLower(d.Version)
	if d.Index == "" {
		d.Index = GenericIndex(d.Namespace, d.Subtype)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if existing, ok := k.kinds[d.Key()]; ok && !existing.Generic {
		return fmt.Errorf("kind %s already registered", d.Key())
	}
	k.kinds[d.Key()] = d
	return nil
}

// Lookup returns the descriptor for (namespace, subtype, version). It falls
// back to the version-less descriptor and finally creates a generic one.
// created reports whether this call registered the generic descriptor.
func (k *Kinds) Lookup(namespace, subtype, version string) (d Descriptor, created bool) {
	namespace = strings.ToLower(namespace)
	subtype = strings.ToLower(subtype)
	version = strings.ToLower(version)

	k.mu.RLock()
	d, ok := k.find(namespace, subtype, version)
	k.mu.RUnlock()
	if ok {
		return d, false
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	// another caller may have registered it meanwhile
	if d, ok := k.find(namespace, subtype, version); ok {
		return d, false
	}
	d = Descriptor{
		Namespace: namespace,
		Subtype:   subtype,
		Index:     GenericIndex(namespace, subtype),
		Generic:   true,
	}
	k.kinds[d.Key()] = d
	return d, true
}

func (k *Kinds) find(namespace, subtype, version string) (Descriptor, bool) {
	if version != "" {
		if d, ok := k.kinds[kindKey(namespace, subtype, version)]; ok {
			return d, true
		}
	}
	d, ok := k.kinds[kindKey(namespace, subtype, "")]
	return d, ok
}

// ClassFilter resolves a "namespace:class" pair into a result filter.
func (k *Kinds) ClassFilter(namespace, class string) (ResultFilter, error) {
	namespace = strings.ToLower(namespace)
	class = strings.ToLower(class)

	k.mu.RLock()
	defer k.mu.RUnlock()

	classes, ok := k.classes[namespace]
	if !ok {
		return ResultFilter{}, fmt.Errorf("%w: %s:%s", ErrUnknownClass, namespace, class)
	}
	if class == ClassAll {
		return ResultFilter{All: true}, nil
	}
	types, ok := classes[class]
	if !ok {
		return ResultFilter{}, fmt.Errorf("%w: %s:%s", ErrUnknownClass, namespace, class)
	}
	return ResultFilter{Types: append([]string(nil), types...)}, nil
}

// Len returns the number of registered descriptors, generic ones included.
func (k *Kinds) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.kinds)
}
