// Package logging holds the logrus setup shared by the worker binaries.
package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// ColoredJSONFormatter renders entries as one colored line for terminals,
// with job and profile identifiers sorted ahead of the other fields.
type ColoredJSONFormatter struct {
	TimestampFormat string
	// Priority orders fields; unlisted fields follow alphabetically
	Priority map[string]int
	// Highlight lists fields printed in green instead of cyan
	Highlight map[string]bool
}

// NewColoredJSONFormatter returns a formatter that puts pipeline
// identifiers first
func NewColoredJSONFormatter() *ColoredJSONFormatter {
	return &ColoredJSONFormatter{
		TimestampFormat: time.RFC3339,
		Priority: map[string]int{
			"job_id":      1,
			"queue":       2,
			"site":        3,
			"profile_id":  4,
			"upstream_id": 5,
			"error":       6,
		},
		Highlight: map[string]bool{
			"job_id":      true,
			"profile_id":  true,
			"upstream_id": true,
			"error":       true,
		},
	}
}

var levelColors = map[logrus.Level]*color.Color{
	logrus.TraceLevel: color.New(color.FgWhite),
	logrus.DebugLevel: color.New(color.FgBlue),
	logrus.InfoLevel:  color.New(color.FgGreen),
	logrus.WarnLevel:  color.New(color.FgYellow),
	logrus.ErrorLevel: color.New(color.FgRed),
	logrus.FatalLevel: color.New(color.FgRed, color.Bold),
	logrus.PanicLevel: color.New(color.FgRed, color.Bold),
}

var (
	timeColor  = color.New(color.FgYellow)
	keyColor   = color.New(color.FgCyan)
	hotColor   = color.New(color.FgGreen)
	valueColor = color.New(color.FgWhite)
)

// Format implements logrus.Formatter
func (f *ColoredJSONFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	b := entry.Buffer
	if b == nil {
		b = &bytes.Buffer{}
	}

	lc, ok := levelColors[entry.Level]
	if !ok {
		lc = valueColor
	}

	b.WriteString(timeColor.Sprint(entry.Time.Format(f.TimestampFormat)))
	b.WriteByte(' ')
	b.WriteString(lc.Sprintf("%-7s", strings.ToUpper(entry.Level.String())))
	b.WriteByte(' ')
	b.WriteString(lc.Sprint(entry.Message))

	for _, k := range f.sortedKeys(entry.Data) {
		kc := keyColor
		if f.Highlight[k] {
			kc = hotColor
		}
		b.WriteByte(' ')
		b.WriteString(kc.Sprintf("%s=", k))
		b.WriteString(valueColor.Sprint(renderValue(entry.Data[k])))
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}

func (f *ColoredJSONFormatter) sortedKeys(data logrus.Fields) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool {
		pi, pj := f.Priority[keys[i]], f.Priority[keys[j]]
		switch {
		case pi != 0 && pj != 0:
			return pi < pj
		case pi != 0:
			return true
		case pj != 0:
			return false
		}
		return keys[i] < keys[j]
	})
	return keys
}

func renderValue(v interface{}) string {
	switch v := v.(type) {
	case string:
		return fmt.Sprintf("%q", v)
	case error:
		return fmt.Sprintf("%q", v.Error())
	case fmt.Stringer:
		return fmt.Sprintf("%q", v.String())
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
