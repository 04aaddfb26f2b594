package instrument

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Marker is the id of the agent execution this package inserts. Its
// presence means the descriptor was already instrumented.
const Marker = "covhook-prepare-agent"

const (
	ReportExecution = "covhook-report"
	PluginArtifact  = "jacoco-maven-plugin"
)

// BackupSuffix is appended to the descriptor path for the pre-modification copy.
const BackupSuffix = ".covhook.bak"

// Anchor names where an insertion was made.
type Anchor string

const (
	AnchorNone        Anchor = ""
	AnchorProperties  Anchor = "properties"
	AnchorPlugins     Anchor = "plugins"
	AnchorBuild       Anchor = "build"
	AnchorSynthesized Anchor = "synthesized"
	// AnchorExisting means the executions went into a coverage plugin the
	// project already declares.
	AnchorExisting Anchor = "existing-plugin"
)

type Options struct {
	// Version of the coverage plugin to declare.
	Version string
	// Formats are the report formats to produce (xml, html, csv).
	Formats []string
}

type Result struct {
	Changed    bool
	Backup     string
	Properties Anchor
	Plugin     Anchor
}

// InstrumentFile ensures the descriptor at path declares the coverage
// plugin with the agent and report executions. A descriptor that already
// contains Marker is left untouched.
// Otherwise the original is copied to path+BackupSuffix and the augmented
// document replaces it.
func InstrumentFile(path string, opts Options) (Result, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("reading %s: %w", path, err)
	}
	out, res, err := Instrument(src, opts)
	if err != nil {
		return Result{}, fmt.Errorf("instrumenting %s: %w", path, err)
	}
	if !res.Changed {
		return res, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return Result{}, err
	}
	res.Backup = path + BackupSuffix
	if err := os.WriteFile(res.Backup, src, info.Mode().Perm()); err != nil {
		return Result{}, fmt.Errorf("writing backup %s: %w", res.Backup, err)
	}
	if err := writeAtomic(path, out, info.Mode().Perm()); err != nil {
		return Result{}, fmt.Errorf("writing %s: %w", path, err)
	}
	return res, nil
}

// Instrument returns src with the coverage plugin declared. Bytes outside
// the inserted regions are preserved exactly.
func Instrument(src []byte, opts Options) ([]byte, Result, error) {
	if bytes.Contains(src, []byte(Marker)) {
		return src, Result{}, nil
	}
	if opts.Version == "" {
		return nil, Result{}, errors.New("plugin version is required")
	}

	a, err := scan(src)
	if err != nil {
		return nil, Result{}, err
	}
	if a.projectClose < 0 {
		return nil, Result{}, errors.New("no closing </project> tag")
	}

	var (
		edits []edit
		tail  strings.Builder
		res   = Result{Changed: true}
	)

	switch {
	case a.properties.found && !a.properties.selfClosing:
		edits = append(edits, insertAt(a.properties.end, "\n"+propertyLines(opts, 2)))
		res.Properties = AnchorProperties
	case a.properties.found:
		edits = append(edits, replace(a.properties, propertiesBlock(opts, 1)))
		res.Properties = AnchorProperties
	default:
		tail.WriteString(indent(1) + propertiesBlock(opts, 1) + "\n")
		res.Properties = AnchorSynthesized
	}

	switch {
	case a.jacoco.found && a.jacoco.executions.found && !a.jacoco.executions.selfClosing:
		edits = append(edits, insertAt(a.jacoco.executions.end, "\n"+executionLines(opts, 5)))
		res.Plugin = AnchorExisting
	case a.jacoco.found && a.jacoco.executions.found:
		edits = append(edits, replace(a.jacoco.executions, executionsBlock(opts, 4)))
		res.Plugin = AnchorExisting
	case a.jacoco.found:
		edits = append(edits, insertAt(a.jacoco.close, indent(1)+executionsBlock(opts, 4)+"\n"+indent(3)))
		res.Plugin = AnchorExisting
	case a.plugins.found && !a.plugins.selfClosing:
		edits = append(edits, insertAt(a.plugins.end, "\n"+pluginBlock(opts, 3)))
		res.Plugin = AnchorPlugins
	case a.plugins.found:
		edits = append(edits, replace(a.plugins, pluginsBlock(opts, 2)))
		res.Plugin = AnchorPlugins
	case a.build.found && !a.build.selfClosing:
		edits = append(edits, insertAt(a.build.end, "\n"+indent(2)+pluginsBlock(opts, 2)))
		res.Plugin = AnchorBuild
	case a.build.found:
		edits = append(edits, replace(a.build, buildBlock(opts, 1)))
		res.Plugin = AnchorBuild
	default:
		tail.WriteString(indent(1) + buildBlock(opts, 1) + "\n")
		res.Plugin = AnchorSynthesized
	}

	if tail.Len() > 0 {
		edits = append(edits, insertAt(a.projectClose, tail.String()))
	}
	return apply(src, edits), res, nil
}

type location struct {
	found       bool
	selfClosing bool
	start       int64
	end         int64
}

// pluginDecl is a project/build/plugins/plugin element.
type pluginDecl struct {
	found      bool
	artifactID string
	executions location
	close      int64
}

type anchors struct {
	properties   location
	build        location
	plugins      location
	jacoco       pluginDecl
	projectClose int64
}

// scan records the byte offsets of project/properties, project/build,
// project/build/plugins, an active coverage plugin declaration and the
// closing project tag. Elements nested in profiles or pluginManagement do
// not match.
func scan(src []byte) (anchors, error) {
	a := anchors{projectClose: -1}
	dec := xml.NewDecoder(bytes.NewReader(src))
	dec.Entity = xml.HTMLEntity
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	var (
		stack   []string
		current pluginDecl
	)
	for {
		before := dec.InputOffset()
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return a, fmt.Errorf("parsing descriptor: %w", err)
		}
		after := dec.InputOffset()

		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name.Local)
			loc := location{
				found:       true,
				selfClosing: after >= 2 && string(src[after-2:after]) == "/>",
				start:       before,
				end:         after,
			}
			switch strings.Join(stack, "/") {
			case "project/properties":
				if !a.properties.found {
					a.properties = loc
				}
			case "project/build":
				if !a.build.found {
					a.build = loc
				}
			case "project/build/plugins":
				if !a.plugins.found {
					a.plugins = loc
				}
			case "project/build/plugins/plugin":
				current = pluginDecl{}
			case "project/build/plugins/plugin/executions":
				current.executions = loc
			}
		case xml.CharData:
			if strings.Join(stack, "/") == "project/build/plugins/plugin/artifactId" {
				current.artifactID += strings.TrimSpace(string(t))
			}
		case xml.EndElement:
			if strings.Join(stack, "/") == "project/build/plugins/plugin" && current.artifactID == PluginArtifact && !a.jacoco.found {
				current.found = true
				current.close = before
				a.jacoco = current
			}
			if len(stack) == 1 && stack[0] == "project" && t.Name.Local == "project" {
				a.projectClose = before
			}
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	return a, nil
}

type edit struct {
	start, end int64
	text       string
}

func insertAt(offset int64, text string) edit {
	return edit{start: offset, end: offset, text: text}
}

func replace(loc location, text string) edit {
	return edit{start: loc.start, end: loc.end, text: text}
}

func apply(src []byte, edits []edit) []byte {
	sort.Slice(edits, func(i, j int) bool { return edits[i].start > edits[j].start })
	out := append([]byte(nil), src...)
	for _, e := range edits {
		var buf bytes.Buffer
		buf.Grow(len(out) + len(e.text))
		buf.Write(out[:e.start])
		buf.WriteString(e.text)
		buf.Write(out[e.end:])
		out = buf.Bytes()
	}
	return out
}

func writeAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
