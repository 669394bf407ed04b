package synctree

import (
	"log/slog"

	"github.com/roach88/treesync/internal/node"
)

// OperationType enumerates the changes the tree applies.
type OperationType string

const (
	OpOverwrite      OperationType = "overwrite"
	OpMerge          OperationType = "merge"
	OpAckUserWrite   OperationType = "ack_user_write"
	OpListenComplete OperationType = "listen_complete"
)

// Source says where an operation came from.
type Source string

const (
	SourceUser   Source = "user"
	SourceServer Source = "server"
)

// Operation is one unit of change applied to the tree.
type Operation struct {
	Type     OperationType
	Source   Source
	Path     node.Path
	Snap     *node.Node            // overwrite
	Children map[string]*node.Node // merge
	WriteID  int64                 // user writes and acks
	Revert   bool                  // ack
}

// LogValue renders the operation without its payload.
func (op Operation) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("type", string(op.Type)),
		slog.String("source", string(op.Source)),
		slog.String("path", op.Path.String()),
	}
	if op.WriteID != 0 {
		attrs = append(attrs, slog.Int64("write_id", op.WriteID))
	}
	if op.Type == OpMerge {
		attrs = append(attrs, slog.Int("children", len(op.Children)))
	}
	if op.Revert {
		attrs = append(attrs, slog.Bool("revert", true))
	}
	return slog.GroupValue(attrs...)
}
