package app

import (
	"context"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// LogNotifier reports user facing messages through the logger and keeps a
// count so commands can exit non-zero.
type LogNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *LogNotifier) Notify(ctx context.Context, title, message string) {
	n.mu.Lock()
	n.count++
	n.mu.Unlock()
	logutil.GetLogger(ctx).Error(message, zap.String("title", title))
}

// Count returns how many notifications were sent.
func (n *LogNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.count
}
