package watch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// --- Message types ---

type healthMsg struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	QueuePending  int    `json:"queue_pending"`
	ActiveGrants  int    `json:"active_grants"`
}

type queueMsg struct {
	Counts struct {
		Pending    int `json:"pending"`
		InProgress int `json:"in_progress"`
		Completed  int `json:"completed"`
		Failed     int `json:"failed"`
	} `json:"counts"`
}

type grantsMsg struct {
	Grants []struct {
		Path  string `json:"path"`
		Count int    `json:"count"`
	} `json:"grants"`
}

type journalMsg struct {
	Entries []struct {
		ID          string    `json:"id"`
		Status      string    `json:"status"`
		Retries     int       `json:"retries"`
		LastError   string    `json:"last_error"`
		CompletedAt time.Time `json:"completed_at"`
	} `json:"entries"`
}

type tickMsg time.Time

type errMsg error

// --- Commands ---

func fetchJSON(apiURL, path string, out any) error {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(apiURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// fetchHealth queries the /healthz endpoint.
func fetchHealth(apiURL string) tea.Msg {
	var m healthMsg
	if err := fetchJSON(apiURL, "/healthz", &m); err != nil {
		return errMsg(err)
	}
	return m
}

// fetchQueue queries the /v1/queue endpoint.
func fetchQueue(apiURL string) tea.Msg {
	var m queueMsg
	if err := fetchJSON(apiURL, "/v1/queue", &m); err != nil {
		return errMsg(err)
	}
	return m
}

// fetchGrants queries the /v1/grants endpoint.
func fetchGrants(apiURL string) tea.Msg {
	var m grantsMsg
	if err := fetchJSON(apiURL, "/v1/grants", &m); err != nil {
		return errMsg(err)
	}
	return m
}

// fetchJournal queries the /v1/journal endpoint.
func fetchJournal(apiURL string) tea.Msg {
	var m journalMsg
	if err := fetchJSON(apiURL, "/v1/journal?limit=20", &m); err != nil {
		return errMsg(err)
	}
	return m
}
