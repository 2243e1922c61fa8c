// ABOUTME: Stored login blob for password-less restarts of the demo player
// ABOUTME: YAML file holding the canonical username and the base64 blob
package main

import (
	"encoding/base64"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type credentials struct {
	Username string `yaml:"username"`
	Blob     string `yaml:"blob"`
}

// loadCredentials returns nil without error when the file does not exist.
func loadCredentials(path string) (*credentials, []byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read credentials: %w", err)
	}
	var c credentials
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, nil, fmt.Errorf("parse credentials: %w", err)
	}
	blob, err := base64.StdEncoding.DecodeString(c.Blob)
	if err != nil || c.Username == "" || len(blob) == 0 {
		return nil, nil, fmt.Errorf("credentials file %s is incomplete", path)
	}
	return &c, blob, nil
}

func saveCredentials(path, username string, blob []byte) error {
	data, err := yaml.Marshal(credentials{
		Username: username,
		Blob:     base64.StdEncoding.EncodeToString(blob),
	})
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return os.Rename(tmp, path)
}
