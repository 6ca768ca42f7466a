package probes

import (
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// LogsCollector returns the most recent system journal lines.
type LogsCollector struct {
	limit int
}

func NewLogsCollector(limit int) *LogsCollector {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	return &LogsCollector{limit: limit}
}

func (c *LogsCollector) Name() string { return "logs" }

type logEntry struct {
	Timestamp string `json:"timestamp"`
	Unit      string `json:"unit,omitempty"`
	Message   string `json:"message"`
}

type logsSnapshot struct {
	Timestamp time.Time  `json:"timestamp"`
	Entries   []logEntry `json:"entries"`
}

func (c *LogsCollector) Collect(ctx context.Context) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "journalctl",
		"-n", strconv.Itoa(c.limit), "-o", "json", "--no-pager").Output()
	if err != nil {
		return nil, err
	}

	snap := logsSnapshot{Timestamp: time.Now().UTC(), Entries: []logEntry{}}
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		var raw struct {
			RealtimeTimestamp string `json:"__REALTIME_TIMESTAMP"`
			Unit              string `json:"_SYSTEMD_UNIT"`
			Message           string `json:"MESSAGE"`
		}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			continue
		}
		snap.Entries = append(snap.Entries, logEntry{
			Timestamp: raw.RealtimeTimestamp,
			Unit:      raw.Unit,
			Message:   raw.Message,
		})
	}
	return json.Marshal(snap)
}
