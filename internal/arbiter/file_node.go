package arbiter

import (
	"github.com/go-logr/logr"

	"github.com/c0smic-Lab/hardware-google-pixel/internal/sysfs"
)

// fileNodeImpl applies arbitrated values by writing them to a sysfs-style
// control file. Write failures are logged and not retried; the value is
// written again on the next change or forced reapply.
type fileNodeImpl struct {
	nodeBase
	writer sysfs.Writer
}

// NewFileNode creates a node whose control surface is the file at cfg.Path,
// written through the supplied writer.
func NewFileNode(cfg NodeConfig, writer sysfs.Writer, logger logr.Logger) (Node, error) {
	if writer == nil {
		return nil, ErrNilWriter
	}

	node := &fileNodeImpl{writer: writer}
	if err := node.init(cfg, logger.WithName("FileNode")); err != nil {
		return nil, err
	}
	node.apply = node.applyToFile
	return node, nil
}

func (n *fileNodeImpl) applyToFile(name, path, value string) {
	if err := n.writer.Write(path, value); err != nil {
		n.logger.Error(err, "failed to write control file", "path", path, "value", value)
	}
}
