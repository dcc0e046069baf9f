package report

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/devicelab-dev/maestro-orchestra/pkg/core"
)

// DefaultSuiteName is used when no suite name is configured.
const DefaultSuiteName = "Test Suite"

const junitTimestamp = "2006-01-02T15:04:05.000"

type junitSuites struct {
	XMLName xml.Name     `xml:"testsuites"`
	Suites  []junitSuite `xml:"testsuite"`
}

type junitSuite struct {
	Name      string      `xml:"name,attr"`
	Device    string      `xml:"device,attr,omitempty"`
	Tests     int         `xml:"tests,attr"`
	Failures  int         `xml:"failures,attr"`
	Time      string      `xml:"time,attr,omitempty"`
	Timestamp string      `xml:"timestamp,attr,omitempty"`
	Cases     []junitCase `xml:"testcase"`
}

type junitCase struct {
	ID        string        `xml:"id,attr"`
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr,omitempty"`
	Timestamp string        `xml:"timestamp,attr,omitempty"`
	Status    string        `xml:"status,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
}

type junitFailure struct {
	Message string `xml:",chardata"`
}

// WriteJUnit writes suites as JUnit XML. Every flow is one testcase with a
// status attribute; ERROR and STOPPED flows count as failures. An empty
// name means DefaultSuiteName.
func WriteJUnit(w io.Writer, name string, suites ...*SuiteResult) error {
	if name == "" {
		name = DefaultSuiteName
	}

	doc := junitSuites{}
	for _, s := range suites {
		js := junitSuite{
			Name:      name,
			Device:    s.Device,
			Tests:     len(s.Flows),
			Time:      seconds(s.Duration),
			Timestamp: timestamp(s.StartTime),
		}
		for _, f := range s.Flows {
			tc := junitCase{
				ID:        f.Name,
				Name:      f.Name,
				ClassName: f.Name,
				Time:      seconds(f.Duration),
				Timestamp: timestamp(f.StartTime),
				Status:    f.Status.String(),
			}
			if f.Status == core.FlowError || f.Status == core.FlowStopped {
				js.Failures++
				msg := f.Status.String()
				if f.Failure != nil {
					msg = f.Failure.Message
				}
				tc.Failure = &junitFailure{Message: msg}
			}
			js.Cases = append(js.Cases, tc)
		}
		doc.Suites = append(doc.Suites, js)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode junit: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func seconds(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(junitTimestamp)
}
