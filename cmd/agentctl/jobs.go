package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/capitalize-ai/agent-platform/internal/middleware"
	"github.com/capitalize-ai/agent-platform/internal/model"
)

type JobsCmd struct {
	Create JobsCreateCmd `cmd:"" help:"Create a job."`
	Get    JobsGetCmd    `cmd:"" help:"Show a job."`
	Watch  JobsWatchCmd  `cmd:"" help:"Stream job events until the job ends."`
	Cancel JobsCancelCmd `cmd:"" help:"Cancel a pending or running job."`
}

type JobsCreateCmd struct {
	Type     string `arg:"" enum:"tool,turn" help:"Job type: tool or turn."`
	Params   string `arg:"" help:"Parameters as a JSON object."`
	Priority string `enum:"low,normal,high" default:"normal" help:"Queue priority."`
	Watch    bool   `short:"w" help:"Stream events after creating."`
}

func (c *JobsCreateCmd) Run(g *Globals) error {
	var params map[string]any
	if err := json.Unmarshal([]byte(c.Params), &params); err != nil {
		return fmt.Errorf("parameters must be a JSON object: %w", err)
	}

	var created model.CreateJobResponse
	err := g.call(http.MethodPost, "/api/v1/jobs", model.CreateJobRequest{
		Type:       model.JobType(c.Type),
		Parameters: params,
		Priority:   c.Priority,
	}, &created)
	if err != nil {
		return err
	}
	if !c.Watch {
		return printJSON(created)
	}
	return g.watch(created.JobID)
}

type JobsGetCmd struct {
	ID string `arg:"" help:"Job id."`
}

func (c *JobsGetCmd) Run(g *Globals) error {
	var job model.Job
	if err := g.call(http.MethodGet, "/api/v1/jobs/"+c.ID, nil, &job); err != nil {
		return err
	}
	return printJSON(job)
}

type JobsWatchCmd struct {
	ID string `arg:"" help:"Job id."`
}

func (c *JobsWatchCmd) Run(g *Globals) error {
	return g.watch(c.ID)
}

type JobsCancelCmd struct {
	ID string `arg:"" help:"Job id."`
}

func (c *JobsCancelCmd) Run(g *Globals) error {
	var job model.Job
	if err := g.call(http.MethodDelete, "/api/v1/jobs/"+c.ID, nil, &job); err != nil {
		return err
	}
	return printJSON(job)
}

func (g *Globals) token() (string, error) {
	if g.Token != "" {
		return g.Token, nil
	}
	if g.Secret == "" {
		return "", errors.New("set --token or --secret")
	}
	return middleware.IssueToken(g.Secret, g.Tenant, g.User, time.Hour)
}

func (g *Globals) request(method, path string, body any) (*http.Response, error) {
	token, err := g.token()
	if err != nil {
		return nil, err
	}

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(g.ctx, method, strings.TrimRight(g.API, "/")+path, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		return nil, fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, apiErr.Error)
	}
	return resp, nil
}

func (g *Globals) call(method, path string, body, out any) error {
	resp, err := g.request(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

// watch prints each job event until the server ends the stream.
func (g *Globals) watch(id string) error {
	resp, err := g.request(http.MethodGet, "/api/v1/jobs/"+id+"/events", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var last model.JobEvent
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var ev model.JobEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("bad event: %w", err)
		}
		if err := printJSON(ev); err != nil {
			return err
		}
		last = ev
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if last.Status == model.JobFailed {
		return fmt.Errorf("job %s failed: %s", id, last.Error)
	}
	return nil
}
