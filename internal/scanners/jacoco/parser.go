package jacoco

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"covhook/scan-runner/internal/model"
)

// ReportFile is the name of the XML report the report goal writes.
const ReportFile = "jacoco.xml"

// PlaceholderMarker in a comment flags a report as an empty placeholder.
const PlaceholderMarker = "covhook:placeholder"

var placeholderNames = map[string]bool{
	"empty":       true,
	"placeholder": true,
	"no-data":     true,
	"fallback":    true,
}

type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("coverage report %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func ParseFile(path string) (*model.CoverageReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	defer f.Close()

	report, err := Parse(f)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return report, nil
}

// Parse sums every counter element in the report by type, wherever it sits
// in the group/package/class/method hierarchy. Unknown counter types are
// ignored.
func Parse(r io.Reader) (*model.CoverageReport, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = true
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	report := model.NewCoverageReport()
	sawRoot := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid report xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "report":
				if !sawRoot {
					report.Name = attr(t, "name")
					if placeholderNames[strings.ToLower(strings.TrimSpace(report.Name))] {
						report.NoData = true
					}
				}
			case "counter":
				if err := addCounter(report, t); err != nil {
					return nil, err
				}
			}
			sawRoot = true
		case xml.Comment:
			if bytes.Contains(t, []byte(PlaceholderMarker)) {
				report.NoData = true
			}
		}
	}
	if !sawRoot {
		return nil, errors.New("empty report document")
	}
	return report, nil
}

func addCounter(report *model.CoverageReport, el xml.StartElement) error {
	typ := model.CounterType(attr(el, "type"))
	if !typ.Known() {
		return nil
	}
	missed, err := strconv.ParseInt(attr(el, "missed"), 10, 64)
	if err != nil || missed < 0 {
		return fmt.Errorf("counter %s: invalid missed value %q", typ, attr(el, "missed"))
	}
	covered, err := strconv.ParseInt(attr(el, "covered"), 10, 64)
	if err != nil || covered < 0 {
		return fmt.Errorf("counter %s: invalid covered value %q", typ, attr(el, "covered"))
	}
	report.Add(typ, missed, covered)
	return nil
}

func attr(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// WritePlaceholder writes a report flagged as empty into dir. It is used
// when a build succeeded without producing any coverage data.
func WritePlaceholder(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, ReportFile)
	doc := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<!-- ` + PlaceholderMarker + `: build produced no coverage data -->
<report name="empty"></report>
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		return "", err
	}
	return path, nil
}
