// Package intlog provides the process-wide structured logger used by
// every service, a thin generalization of the teacher's bare
// log "github.com/sirupsen/logrus" import and WithField chains in
// identity/issuer/issuer.go into a per-component factory.
package intlog

import (
	"os"

	"github.com/sirupsen/logrus"
)

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.Out = os.Stderr
	l.Formatter = &logrus.JSONFormatter{}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		if parsed, err := logrus.ParseLevel(lvl); err == nil {
			l.SetLevel(parsed)
		}
	}
	return l
}

// For returns a component-scoped logger, e.g. intlog.For("block-builder").
func For(component string) *logrus.Entry {
	return base.WithField("component", component)
}

// SetOutput lets tests or cmd/ entrypoints change the log level by name;
// the output stream stays os.Stderr.
func SetOutput(levelName string) error {
	lvl, err := logrus.ParseLevel(levelName)
	if err != nil {
		return err
	}
	base.SetLevel(lvl)
	return nil
}
