package device

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"
)

// crashRecord is the JSON artifact left behind when the process panics.
type crashRecord struct {
	Time     time.Time `json:"time"`
	DeviceID string    `json:"device_id,omitempty"`
	Panic    string    `json:"panic"`
	Stack    string    `json:"stack"`
}

// WriteCrashArtifact records a panic value and the current stack under
// dataDir/crash/ and returns the artifact path. The device exits cleanly
// after a crash so its supervisor restarts it; the artifact is what remains
// for diagnosis.
func WriteCrashArtifact(dataDir, deviceID string, recovered any) (string, error) {
	dir := filepath.Join(dataDir, "crash")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create crash dir: %w", err)
	}

	rec := crashRecord{
		Time:     time.Now().UTC(),
		DeviceID: deviceID,
		Panic:    fmt.Sprint(recovered),
		Stack:    string(debug.Stack()),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode crash record: %w", err)
	}

	path := filepath.Join(dir, rec.Time.Format("20060102T150405Z")+".json")
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write crash record: %w", err)
	}
	return path, nil
}
