package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// streamEvent is the wire shape of one task event as delivered over SSE.
type streamEvent struct {
	Sequence  uint64          `json:"sequence"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"`
}

// followTask opens the SSE stream for a task and renders events until the
// terminal event arrives or the stream ends. Returns the exit code to use
// for the runctl process itself: 0 on success, 1 otherwise.
func followTask(taskID string) (int, error) {
	// Streams outlive the normal request timeout; build the request by hand.
	url := fmt.Sprintf("http://%s/v1/tasks/%s/events", serverAddr, taskID)
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return 1, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if jwtToken != "" {
		req.Header.Set("Authorization", "Bearer "+jwtToken)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 1, fmt.Errorf("failed to connect to event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 1, decodeAPIError(resp)
	}

	return renderStream(resp.Body)
}

// renderStream parses SSE frames and prints them. Stdout and stderr chunks go
// to the matching local stream verbatim; everything else is a status line.
func renderStream(r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data strings.Builder
	exitCode := 1
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				done := renderEvent(data.String(), &exitCode)
				data.Reset()
				if done {
					return exitCode, nil
				}
			}
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, ":"):
			// Heartbeat comment, ignore.
		}
	}
	if err := scanner.Err(); err != nil {
		return 1, fmt.Errorf("event stream interrupted: %w", err)
	}
	return 1, fmt.Errorf("event stream ended before task completed")
}

// renderEvent prints one decoded event. Returns true when the event is
// terminal.
func renderEvent(data string, exitCode *int) bool {
	var ev streamEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		fmt.Fprintf(os.Stderr, "skipping malformed event: %v\n", err)
		return false
	}

	if outputJSON {
		fmt.Println(data)
		return ev.Kind == "completed"
	}

	switch ev.Kind {
	case "connected":
		var p struct {
			TaskID string `json:"task_id"`
			Status string `json:"status"`
		}
		json.Unmarshal(ev.Payload, &p)
		fmt.Fprintf(os.Stderr, "connected to task %s (status: %s)\n", p.TaskID, p.Status)

	case "started":
		var p struct {
			PID int `json:"pid"`
		}
		json.Unmarshal(ev.Payload, &p)
		fmt.Fprintf(os.Stderr, "process started (pid %d)\n", p.PID)

	case "stdout":
		var chunk string
		json.Unmarshal(ev.Payload, &chunk)
		fmt.Print(chunk)

	case "stderr":
		var chunk string
		json.Unmarshal(ev.Payload, &chunk)
		fmt.Fprint(os.Stderr, chunk)

	case "info", "error":
		var p struct {
			Message string `json:"message"`
		}
		json.Unmarshal(ev.Payload, &p)
		fmt.Fprintf(os.Stderr, "[%s] %s\n", ev.Kind, p.Message)

	case "completed":
		var p struct {
			Success  bool `json:"success"`
			ExitCode *int `json:"exit_code"`
		}
		json.Unmarshal(ev.Payload, &p)
		if p.Success {
			*exitCode = 0
			fmt.Fprintln(os.Stderr, "task completed")
		} else if p.ExitCode != nil {
			*exitCode = *p.ExitCode
			fmt.Fprintf(os.Stderr, "task failed (exit code %d)\n", *p.ExitCode)
		} else {
			*exitCode = 1
			fmt.Fprintln(os.Stderr, "task failed (process never started)")
		}
		return true
	}
	return false
}
