// Package manifest models the on-disk driver manifest (spec.md §6.2) and its
// discovery on the filesystem (§4.4). Loading mirrors the teacher's
// utils.ReadImageConfig/WriteImageConfig pattern (read/decode a JSON
// sidecar file), adapted from an OCI image config to a driver manifest.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/runix/runixd/internal/engineerr"
)

// Transport is the wire transport a driver manifest declares. This spec
// mandates Websocket; the others are recognized so a manifest naming them
// is reported, not silently misread.
type Transport string

const (
	TransportWebsocket Transport = "websocket"
	TransportStdio     Transport = "stdio"
	TransportHTTP      Transport = "http"
	TransportTCP       Transport = "tcp"
)

// FileName is the conventional manifest file name looked for beside each
// driver executable.
const FileName = "manifest.json"

// StepDefinition is one entry of a manifest's embedded `steps` (§3, §6.3).
type StepDefinition struct {
	ID          string      `json:"id"`
	Pattern     string      `json:"pattern"`
	Action      string      `json:"action"`
	Description string      `json:"description,omitempty"`
	Examples    []string    `json:"examples,omitempty"`
	Parameters  []Parameter `json:"parameters,omitempty"`
}

// Parameter is one named, typed argument of a StepDefinition.
type Parameter struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// Manifest is the on-disk driver descriptor (§3).
type Manifest struct {
	Name        string           `json:"name"`
	Version     string           `json:"version"`
	Description string           `json:"description,omitempty"`
	Author      string           `json:"author,omitempty"`
	License     string           `json:"license,omitempty"`
	Protocol    string           `json:"protocol,omitempty"`
	Executable  string           `json:"executable"`
	Transport   Transport        `json:"transport"`
	Actions     []string         `json:"actions,omitempty"`
	Features    []string         `json:"features,omitempty"`
	Steps       []StepDefinition `json:"steps,omitempty"`
	Category    string           `json:"category,omitempty"`
	Tags        []string         `json:"tags,omitempty"`

	// Unknown carries any field the struct above does not model, so
	// Parse -> Marshal -> Parse round-trips structurally equal manifests
	// even as the manifest schema grows (§8 round-trip property).
	Unknown map[string]json.RawMessage `json:"-"`

	// dir is the directory the manifest was loaded from; Executable is
	// resolved relative to it.
	dir string
}

// Validate enforces the required-fields invariant of §3: name, version,
// executable and transport must be present, and transport must be the one
// this spec supports.
func (m *Manifest) Validate() error {
	switch {
	case m.Name == "":
		return engineerr.ErrConfiguration.New("manifest missing required field \"name\"")
	case m.Version == "":
		return engineerr.ErrConfiguration.New(fmt.Sprintf("manifest %q missing required field \"version\"", m.Name))
	case m.Executable == "":
		return engineerr.ErrConfiguration.New(fmt.Sprintf("manifest %q missing required field \"executable\"", m.Name))
	case m.Transport != TransportWebsocket:
		return engineerr.ErrConfiguration.New(fmt.Sprintf("manifest %q declares unsupported transport %q", m.Name, m.Transport))
	}
	return nil
}

// ExecutablePath resolves Executable relative to the manifest's directory.
func (m *Manifest) ExecutablePath() string {
	if filepath.IsAbs(m.Executable) {
		return m.Executable
	}
	return filepath.Join(m.dir, m.Executable)
}

// ExecutableExists reports whether ExecutablePath names a file that exists.
// A manifest with a missing executable is discovered but not startable
// (§3 invariant) — callers report this rather than skipping the manifest.
func (m *Manifest) ExecutableExists() bool {
	_, err := os.Stat(m.ExecutablePath())
	return err == nil
}

// Load reads and parses a manifest file from path. It does not validate —
// callers decide whether to surface an invalid manifest as a discovery
// error or a hard failure.
func Load(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, engineerr.ErrConfiguration.Wrap(err, "reading manifest "+path)
	}
	return Parse(b, filepath.Dir(path))
}

// Parse decodes manifest JSON, preserving unknown fields (§6.2: "Unknown
// fields are preserved and ignored").
func Parse(b []byte, dir string) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, engineerr.ErrConfiguration.Wrap(err, "parsing manifest")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err == nil {
		known := map[string]bool{
			"name": true, "version": true, "description": true, "author": true,
			"license": true, "protocol": true, "executable": true, "transport": true,
			"actions": true, "features": true, "steps": true, "category": true, "tags": true,
		}
		unknown := make(map[string]json.RawMessage)
		for k, v := range raw {
			if !known[k] {
				unknown[k] = v
			}
		}
		if len(unknown) > 0 {
			m.Unknown = unknown
		}
	}

	m.dir = dir
	return &m, nil
}

// Marshal serializes the manifest back to JSON, re-attaching any unknown
// fields captured at Parse time (§8 round-trip property).
func (m *Manifest) Marshal() ([]byte, error) {
	type alias Manifest
	out := make(map[string]json.RawMessage)

	b, err := json.Marshal((*alias)(m))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	for k, v := range m.Unknown {
		out[k] = v
	}
	return json.Marshal(out)
}

// DiscoveryError records a manifest that failed to parse or validate during
// Discover, per §4.4 ("Invalid manifests are collected into a non-fatal
// error list ... they never throw") and SPEC_FULL.md supplement #1.
type DiscoveryError struct {
	Path   string
	Reason string
}

// Discover scans each search path one directory deep for subdirectories
// containing a manifest file (§4.4). It is idempotent: the same paths always
// yield the same set of manifests in the same order (§8).
func Discover(searchPaths []string) ([]*Manifest, []DiscoveryError) {
	var manifests []*Manifest
	var errs []DiscoveryError

	for _, root := range searchPaths {
		entries, err := os.ReadDir(root)
		if err != nil {
			errs = append(errs, DiscoveryError{Path: root, Reason: err.Error()})
			continue
		}

		var names []string
		for _, e := range entries {
			if e.IsDir() {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)

		for _, name := range names {
			dir := filepath.Join(root, name)
			path := filepath.Join(dir, FileName)
			if _, err := os.Stat(path); err != nil {
				continue
			}

			m, err := Load(path)
			if err != nil {
				errs = append(errs, DiscoveryError{Path: path, Reason: err.Error()})
				continue
			}
			if err := m.Validate(); err != nil {
				errs = append(errs, DiscoveryError{Path: path, Reason: err.Error()})
				continue
			}
			manifests = append(manifests, m)
		}
	}

	sort.Slice(manifests, func(i, j int) bool { return manifests[i].Name < manifests[j].Name })
	return manifests, errs
}
