package commands

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Abmstpha/sdckit/internal/dataset"
	"github.com/Abmstpha/sdckit/pkg/models"
)

// samplePrefix selects a bundled dataset instead of a file, e.g.
// --input sample:labour_force.
const samplePrefix = "sample:"

func newLogger(verbose bool) *logrus.Logger {
	logger := logrus.New()
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}
	return logger
}

func loadInput(logger *logrus.Logger, input, delimiter string) (*models.Table, error) {
	if strings.HasPrefix(input, samplePrefix) {
		return dataset.Sample(strings.TrimPrefix(input, samplePrefix))
	}
	opts := dataset.LoadOptions{}
	if delimiter != "" {
		opts.Delimiter = rune(delimiter[0])
	}
	return dataset.NewLoader(logger).LoadFile(input, opts)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
