package bot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// StatusPublisher writes BotStatus to a well-known filesystem location
// (spec §6.3: "status/bot_{id}.{ext}"), avoiding any shared-memory
// coupling between the worker and the control plane.
type StatusPublisher struct {
	Dir string
}

// Publish atomically writes a bot's status file.
func (p *StatusPublisher) Publish(s Status) error {
	if p.Dir == "" {
		p.Dir = "status"
	}
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return fmt.Errorf("status dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	path := filepath.Join(p.Dir, fmt.Sprintf("bot_%s.json", s.BotID))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write status tmp: %w", err)
	}
	return os.Rename(tmp, path)
}

// Read loads the last-published status for a bot, used by the control
// plane's status(id) query.
func (p *StatusPublisher) Read(botID string) (Status, error) {
	if p.Dir == "" {
		p.Dir = "status"
	}
	data, err := os.ReadFile(filepath.Join(p.Dir, fmt.Sprintf("bot_%s.json", botID)))
	if err != nil {
		return Status{}, err
	}
	var s Status
	if err := json.Unmarshal(data, &s); err != nil {
		return Status{}, fmt.Errorf("parse status: %w", err)
	}
	return s, nil
}
