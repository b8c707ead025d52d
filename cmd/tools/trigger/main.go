package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

type snapshot struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Stage        int    `json:"stage"`
	StageName    string `json:"stage_name"`
	Overall      int    `json:"overall_percent"`
	CheckpointID string `json:"checkpoint_id"`
	Collected    int    `json:"collected"`
	Classified   int    `json:"classified"`
	Relevant     int    `json:"relevant"`
	Summary      string `json:"summary"`
	Error        string `json:"error"`
	Progress     struct {
		Current int    `json:"current"`
		Total   int    `json:"total"`
		Label   string `json:"label"`
	} `json:"progress"`
}

type client struct {
	base   string
	secret string
	token  string
	http   *http.Client
}

func main() {
	baseURL := flag.String("base-url", "http://localhost:8080", "API base URL")
	adminSecretFlag := flag.String("admin-secret", "", "Admin secret (or use ADMIN_SECRET env)")
	token := flag.String("token", "", "Bearer token issued by /api/v1/auth/token (or use API_TOKEN env)")
	useCache := flag.Bool("use-cache", true, "Resume the newest incomplete checkpoint")
	resume := flag.String("resume", "", "Checkpoint id to resume")
	timeout := flag.String("timeout", "", "Run timeout, e.g. 45m")
	status := flag.String("status", "", "Only print the status of this run id")
	cancel := flag.String("cancel", "", "Cancel this run id")
	wait := flag.Bool("wait", true, "Poll until the run finishes")
	interval := flag.Duration("interval", 5*time.Second, "Polling interval")
	flag.Parse()

	c := &client{
		base:   strings.TrimRight(*baseURL, "/"),
		secret: firstNonEmpty(*adminSecretFlag, os.Getenv("ADMIN_SECRET")),
		token:  firstNonEmpty(*token, os.Getenv("API_TOKEN")),
		http:   &http.Client{Timeout: 30 * time.Second},
	}
	if c.secret == "" && c.token == "" {
		exitErr(fmt.Errorf("missing credentials: use -admin-secret, -token, ADMIN_SECRET or API_TOKEN"))
	}

	switch {
	case *cancel != "":
		snap, err := c.call(http.MethodDelete, "/api/v1/runs/"+*cancel, nil)
		if err != nil {
			exitErr(err)
		}
		printSnapshot(snap)
		return
	case *status != "":
		snap, err := c.call(http.MethodGet, "/api/v1/runs/"+*status, nil)
		if err != nil {
			exitErr(err)
		}
		printSnapshot(snap)
		return
	}

	body := map[string]any{"use_cache": *useCache, "resume_run_id": *resume, "timeout": *timeout}
	snap, err := c.call(http.MethodPost, "/api/v1/runs", body)
	if err != nil {
		exitErr(err)
	}
	fmt.Printf("Run started: %s\n", snap.ID)
	if !*wait {
		return
	}

	for snap.Status == "running" {
		time.Sleep(*interval)
		next, err := c.call(http.MethodGet, "/api/v1/runs/"+snap.ID, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "poll failed: %v\n", err)
			continue
		}
		snap = next
		fmt.Printf("[%3d%%] %d/6 %s %d/%d %s\n", snap.Overall, snap.Stage, snap.StageName,
			snap.Progress.Current, snap.Progress.Total, snap.Progress.Label)
	}
	printSnapshot(snap)
	if snap.Status != "completed" {
		os.Exit(1)
	}
}

func (c *client) call(method, path string, body any) (*snapshot, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set("X-Admin-Secret", c.secret)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusConflict {
		return nil, fmt.Errorf("a run is already active: %s", strings.TrimSpace(string(raw)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}
	return &snap, nil
}

func printSnapshot(s *snapshot) {
	fmt.Printf("Run %s: %s\n", s.ID, s.Status)
	if s.CheckpointID != "" {
		fmt.Printf("  checkpoint: %s\n", s.CheckpointID)
	}
	fmt.Printf("  collected=%d classified=%d relevant=%d\n", s.Collected, s.Classified, s.Relevant)
	if s.Summary != "" {
		fmt.Printf("  %s\n", s.Summary)
	}
	if s.Error != "" {
		fmt.Printf("  error: %s\n", s.Error)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
