// Package logrusutil wires the logrus logger the same way across every
// binary in this repo: JSON output, a component field, and a censoring
// formatter that redacts configured secret values out of every log line
// before it is written.
package logrusutil

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// ComponentInit installs a JSON formatter tagged with the given component
// name on the standard logger. Every binary calls this once at startup.
func ComponentInit(component string) {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetReportCaller(false)
	logrus.AddHook(&componentHook{component: component})
}

type componentHook struct{ component string }

func (h *componentHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *componentHook) Fire(e *logrus.Entry) error {
	e.Data["component"] = h.component
	return nil
}

// CensoringFormatter wraps another formatter and replaces any occurrence of
// a configured secret with asterisks of the same length, in both the message
// and any string-ish field value.
type CensoringFormatter struct {
	Delegate logrus.Formatter
	secrets  func() []string
}

// NewCensoringFormatter builds a CensoringFormatter that consults
// getSecrets() at format time, so newly-loaded secrets are picked up without
// rebuilding the formatter.
func NewCensoringFormatter(delegate logrus.Formatter, getSecrets func() []string) *CensoringFormatter {
	return &CensoringFormatter{Delegate: delegate, secrets: getSecrets}
}

func (f *CensoringFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	secrets := f.secrets()
	censor := func(s string) string {
		for _, secret := range secrets {
			if secret == "" {
				continue
			}
			s = strings.ReplaceAll(s, secret, strings.Repeat("*", len(secret)))
		}
		return s
	}

	entry.Message = censor(entry.Message)
	for k, v := range entry.Data {
		switch val := v.(type) {
		case string:
			entry.Data[k] = censor(val)
		case error:
			entry.Data[k] = censor(val.Error())
		}
	}
	return f.Delegate.Format(entry)
}
