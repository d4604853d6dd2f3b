package sysfs

import (
	"fmt"
	"os"
)

// Writer abstracts the control surface write so nodes can be tested against
// fake filesystems and writes can be instrumented.
type Writer interface {
	Write(path, value string) error
}

type fileWriterImpl struct{}

// NewWriter returns a Writer backed by plain file writes, the mechanism used
// for sysfs tunables such as cpufreq scaling knobs.
func NewWriter() Writer {
	return &fileWriterImpl{}
}

func (w *fileWriterImpl) Write(path, value string) error {
	if err := os.WriteFile(path, []byte(value), 0644); err != nil {
		return fmt.Errorf("failed to write %q to %s: %w", value, path, err)
	}
	return nil
}
