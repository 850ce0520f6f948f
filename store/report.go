package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wiretap-dev/wiretap/report"
)

// ReadReport parses report.json for id. It returns (nil, nil) if the file
// does not exist, signalling the caller to rebuild the report from logs.
func (s *Store) ReadReport(id string) (*report.RouteReport, error) {
	path := filepath.Join(s.rootDir, id, "report.json")
	data, err := os.ReadFile(path) // #nosec G304 -- id enumerated from our own session directory
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: read report for %q: %w", id, err)
	}
	var rep report.RouteReport
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("store: parse report for %q: %w", id, err)
	}
	return &rep, nil
}

// WriteReport serializes rep to report.json for id, a simple JSON
// round-trip cache populated once on Stop and rebuilt lazily if missing.
func (s *Store) WriteReport(id string, rep *report.RouteReport) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal report for %q: %w", id, err)
	}
	path := filepath.Join(s.rootDir, id, "report.json")
	if err := os.WriteFile(path, data, 0o644); err != nil { // #nosec G306 -- local dev tool, not handling untrusted multi-tenant data
		return fmt.Errorf("store: write report for %q: %w", id, err)
	}
	return nil
}
