package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/overlaybridge/overlaybridge/pkg/models"
)

const (
	// The websocket host is always the local loopback name; the config file
	// only supplies the port and password.
	wssHost        = "localhost"
	defaultWSSPort = 4455
)

// WSSStore holds the in-memory websocket-credentials triple. A failed load
// reports the reason and leaves the previous triple untouched.
type WSSStore struct {
	mu      sync.RWMutex
	details models.WSSDetails
}

func NewWSSStore() *WSSStore {
	return &WSSStore{
		details: models.WSSDetails{
			IP:   wssHost,
			Port: defaultWSSPort,
		},
	}
}

// wssFile is the on-disk shape. Keys beyond the required two are ignored.
type wssFile struct {
	ServerPassword *string `json:"server_password"`
	ServerPort     *int    `json:"server_port"`
}

// Load parses the credentials file at path and replaces the triple wholesale
// on success.
func (s *WSSStore) Load(path string) error {
	if path == "" {
		return fmt.Errorf("websocket config: no file selected")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("websocket config: %w", err)
	}

	var file wssFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("websocket config: invalid JSON in '%s': %w", path, err)
	}

	var missing []string

	if file.ServerPassword == nil {
		missing = append(missing, "server_password")
	}

	if file.ServerPort == nil {
		missing = append(missing, "server_port")
	}

	if len(missing) > 0 {
		return fmt.Errorf("websocket config: missing keys: %s", strings.Join(missing, ", "))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.details = models.WSSDetails{
		IP:       wssHost,
		Port:     *file.ServerPort,
		Password: *file.ServerPassword,
	}

	return nil
}

// Details returns the current triple.
func (s *WSSStore) Details() models.WSSDetails {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.details
}
