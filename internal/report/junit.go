package report

import (
	"encoding/xml"
	"fmt"
	"io"
)

type junitSuites struct {
	XMLName  xml.Name     `xml:"testsuites"`
	Name     string       `xml:"name,attr"`
	Tests    int          `xml:"tests,attr"`
	Failures int          `xml:"failures,attr"`
	Skipped  int          `xml:"skipped,attr"`
	Time     string       `xml:"time,attr"`
	Suites   []junitSuite `xml:"testsuite"`
}

type junitSuite struct {
	Name     string      `xml:"name,attr"`
	Tests    int         `xml:"tests,attr"`
	Failures int         `xml:"failures,attr"`
	Skipped  int         `xml:"skipped,attr"`
	Time     string      `xml:"time,attr"`
	Cases    []junitCase `xml:"testcase"`
}

type junitCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
	Skipped   *junitSkipped `xml:"skipped,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

type junitSkipped struct {
	Message string `xml:"message,attr,omitempty"`
}

// WriteJUnit exports every attempt in s as a JUnit XML report, one suite per
// batch. Failed attempts that were rerun, failed optional tests and tests that
// never finished are reported as skipped.
func WriteJUnit(w io.Writer, s Summary) error {
	out := junitSuites{Name: "gametest", Time: seconds(s.DurationMs)}
	index := map[string]int{}
	suiteMs := map[string]int64{}
	for _, tr := range s.Tests {
		i, ok := index[tr.Batch]
		if !ok {
			i = len(out.Suites)
			index[tr.Batch] = i
			out.Suites = append(out.Suites, junitSuite{Name: tr.Batch})
		}
		suite := &out.Suites[i]
		name := tr.Name
		if tr.Attempt > 1 {
			name = fmt.Sprintf("%s#%d", tr.Name, tr.Attempt)
		}
		c := junitCase{Name: name, ClassName: tr.Class, Time: seconds(tr.DurationMs)}
		switch {
		case tr.State == "FAILED" && tr.Rerun:
			c.Skipped = &junitSkipped{Message: "rerun: " + tr.Error}
			suite.Skipped++
		case tr.State == "FAILED" && tr.Required:
			c.Failure = &junitFailure{Message: tr.Error, Type: tr.Code, Body: tr.Error}
			suite.Failures++
		case tr.State == "FAILED":
			c.Skipped = &junitSkipped{Message: "optional: " + tr.Error}
			suite.Skipped++
		case tr.State != "PASSED":
			c.Skipped = &junitSkipped{Message: "not run"}
			suite.Skipped++
		}
		suite.Tests++
		suiteMs[tr.Batch] += tr.DurationMs
		suite.Cases = append(suite.Cases, c)
	}
	for i := range out.Suites {
		out.Suites[i].Time = seconds(suiteMs[out.Suites[i].Name])
		out.Tests += out.Suites[i].Tests
		out.Failures += out.Suites[i].Failures
		out.Skipped += out.Suites[i].Skipped
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func seconds(ms int64) string { return fmt.Sprintf("%.3f", float64(ms)/1000) }
