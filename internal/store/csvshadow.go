package store

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/viralscope/viralscope/internal/model"
)

// CSVShadow mirrors queue transitions into a local CSV file for offline
// inspection. The mirror is best-effort: write failures are logged and never
// surface to the queue path.
type CSVShadow struct {
	mu   sync.Mutex
	path string
}

var csvShadowHeader = []string{
	"timestamp", "request_id", "username", "source", "priority", "status", "attempts", "error",
}

// NewCSVShadow creates the shadow writer; an empty path disables it.
func NewCSVShadow(path string) *CSVShadow {
	return &CSVShadow{path: path}
}

// Record appends one queue transition. Errors are swallowed after logging.
func (c *CSVShadow) Record(item *model.QueueItem) {
	if c == nil || c.path == "" || item == nil {
		return
	}
	if err := c.append(item); err != nil {
		zap.L().Warn("queue csv shadow write failed",
			zap.String("path", c.path), zap.Error(err))
	}
}

func (c *CSVShadow) append(item *model.QueueItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return eris.Wrap(err, "csvshadow: mkdir")
	}

	info, statErr := os.Stat(c.path)
	writeHeader := statErr != nil || info.Size() == 0

	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return eris.Wrap(err, "csvshadow: open")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(csvShadowHeader); err != nil {
			return eris.Wrap(err, "csvshadow: write header")
		}
	}
	row := []string{
		time.Now().UTC().Format(time.RFC3339),
		item.RequestID,
		item.Username,
		item.Source,
		string(item.Priority),
		string(item.Status),
		strconv.Itoa(item.Attempts),
		item.ErrorMessage,
	}
	if err := w.Write(row); err != nil {
		return eris.Wrap(err, "csvshadow: write row")
	}
	w.Flush()
	return eris.Wrap(w.Error(), "csvshadow: flush")
}
