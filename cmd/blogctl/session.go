package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/blackmichael/blogapp/internal/remote"
)

// savedSession is the session file written by login and signup, so later
// commands stay signed in until logout.
type savedSession struct {
	Server  string        `json:"server"`
	Cookies []savedCookie `json:"cookies"`
}

type savedCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".blogctl-session.json"
	}
	return filepath.Join(dir, "blogctl", "session.json")
}

func saveSession(path, server string, c *remote.Client) error {
	s := savedSession{Server: server}
	for _, ck := range c.Cookies() {
		s.Cookies = append(s.Cookies, savedCookie{Name: ck.Name, Value: ck.Value})
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// loadSession restores saved cookies into c. It reports false when there is
// no session file or it belongs to another server.
func loadSession(path, server string, c *remote.Client) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read session: %w", err)
	}
	var s savedSession
	if err := json.Unmarshal(data, &s); err != nil {
		return false, fmt.Errorf("decode session %s: %w", path, err)
	}
	if s.Server != server || len(s.Cookies) == 0 {
		return false, nil
	}
	cookies := make([]*http.Cookie, 0, len(s.Cookies))
	for _, ck := range s.Cookies {
		cookies = append(cookies, &http.Cookie{Name: ck.Name, Value: ck.Value, Path: "/"})
	}
	c.SetCookies(cookies)
	return true, nil
}

func clearSession(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}
