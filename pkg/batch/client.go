package batch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
)

const (
	moduleName        = "blobcrypt/batch"
	moduleVersion     = "v0.1.0"
	DefaultAPIVersion = "2024-07-01.20.0"

	contentTypeOData = "application/json; odata=minimalmetadata"
)

// ClientOptions configures the underlying azcore pipeline. Retry.MaxRetries
// of -1 disables pipeline retries, which is what NewClient uses when options
// are nil.
type ClientOptions struct {
	azcore.ClientOptions
	APIVersion string
}

// Client talks to the Batch REST API of one account.
type Client struct {
	endpoint   string
	apiVersion string
	pl         runtime.Pipeline
}

var _ Service = (*Client)(nil)

func NewClient(creds Credentials, options *ClientOptions) (*Client, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if _, err := url.Parse(creds.ServiceURL); err != nil {
		return nil, fmt.Errorf("batch service URL: %w", err)
	}
	if options == nil {
		options = &ClientOptions{}
		options.Retry.MaxRetries = -1
	}
	apiVersion := options.APIVersion
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}

	auth, err := NewSharedKeyPolicy(creds.AccountName, creds.AccountKey)
	if err != nil {
		return nil, err
	}
	pl := runtime.NewPipeline(moduleName, moduleVersion, runtime.PipelineOptions{
		PerRetry: []policy.Policy{auth},
	}, &options.ClientOptions)

	return &Client{
		endpoint:   strings.TrimSuffix(creds.ServiceURL, "/"),
		apiVersion: apiVersion,
		pl:         pl,
	}, nil
}

func (c *Client) newRequest(ctx context.Context, method string, segments ...string) (*policy.Request, error) {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		if s == "" {
			return nil, ErrEmptyID
		}
		escaped[i] = url.PathEscape(s)
	}
	req, err := runtime.NewRequest(ctx, method, c.endpoint+"/"+strings.Join(escaped, "/"))
	if err != nil {
		return nil, err
	}
	q := req.Raw().URL.Query()
	q.Set("api-version", c.apiVersion)
	req.Raw().URL.RawQuery = q.Encode()
	req.Raw().Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) send(req *policy.Request, body any, statusCodes ...int) (*http.Response, error) {
	if body != nil {
		if err := runtime.MarshalAsJSON(req, body); err != nil {
			return nil, err
		}
		req.Raw().Header.Set("Content-Type", contentTypeOData)
	}
	resp, err := c.pl.Do(req)
	if err != nil {
		return nil, err
	}
	if !runtime.HasStatusCode(resp, statusCodes...) {
		return nil, runtime.NewResponseError(resp)
	}
	return resp, nil
}

// AddJob registers a job. The service answers 201.
func (c *Client) AddJob(ctx context.Context, job JobAddParameter) error {
	if job.ID == "" {
		return ErrEmptyID
	}
	req, err := c.newRequest(ctx, http.MethodPost, "jobs")
	if err != nil {
		return err
	}
	resp, err := c.send(req, job, http.StatusCreated)
	if err != nil {
		return err
	}
	return drain(resp)
}

func (c *Client) AddTask(ctx context.Context, jobID string, task TaskAddParameter) error {
	if task.ID == "" {
		return ErrEmptyID
	}
	req, err := c.newRequest(ctx, http.MethodPost, "jobs", jobID, "tasks")
	if err != nil {
		return err
	}
	resp, err := c.send(req, task, http.StatusCreated)
	if err != nil {
		return err
	}
	return drain(resp)
}

type taskListResult struct {
	Value    []Task `json:"value"`
	NextLink string `json:"odata.nextLink"`
}

// ListTasks returns every task of the job, following odata.nextLink.
func (c *Client) ListTasks(ctx context.Context, jobID string) ([]Task, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "jobs", jobID, "tasks")
	if err != nil {
		return nil, err
	}
	var tasks []Task
	for {
		resp, err := c.send(req, nil, http.StatusOK)
		if err != nil {
			return nil, err
		}
		var page taskListResult
		if err := runtime.UnmarshalAsJSON(resp, &page); err != nil {
			return nil, fmt.Errorf("decode task list: %w", err)
		}
		tasks = append(tasks, page.Value...)
		if page.NextLink == "" {
			return tasks, nil
		}
		req, err = runtime.NewRequest(ctx, http.MethodGet, page.NextLink)
		if err != nil {
			return nil, err
		}
		req.Raw().Header.Set("Accept", "application/json")
	}
}

func (c *Client) GetTask(ctx context.Context, jobID, taskID string) (Task, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "jobs", jobID, "tasks", taskID)
	if err != nil {
		return Task{}, err
	}
	resp, err := c.send(req, nil, http.StatusOK)
	if err != nil {
		return Task{}, err
	}
	var t Task
	if err := runtime.UnmarshalAsJSON(resp, &t); err != nil {
		return Task{}, fmt.Errorf("decode task %s: %w", taskID, err)
	}
	return t, nil
}

// GetTaskFile downloads a file from the task's working directory, e.g.
// StandardOutFileName, and returns it as text.
func (c *Client) GetTaskFile(ctx context.Context, jobID, taskID, filePath string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "jobs", jobID, "tasks", taskID, "files", filePath)
	if err != nil {
		return "", err
	}
	req.Raw().Header.Set("Accept", "application/octet-stream")
	resp, err := c.send(req, nil, http.StatusOK)
	if err != nil {
		return "", err
	}
	data, err := runtime.Payload(resp)
	if err != nil {
		return "", fmt.Errorf("read %s of task %s: %w", filePath, taskID, err)
	}
	return string(data), nil
}

func (c *Client) DeletePool(ctx context.Context, poolID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "pools", poolID)
	if err != nil {
		return err
	}
	resp, err := c.send(req, nil, http.StatusAccepted, http.StatusOK)
	if err != nil {
		return err
	}
	return drain(resp)
}

func (c *Client) DeleteJob(ctx context.Context, jobID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "jobs", jobID)
	if err != nil {
		return err
	}
	resp, err := c.send(req, nil, http.StatusAccepted, http.StatusOK)
	if err != nil {
		return err
	}
	return drain(resp)
}

func drain(resp *http.Response) error {
	_, err := runtime.Payload(resp)
	return err
}

// IsNotFound reports whether err carries a 404 from the service.
func IsNotFound(err error) bool {
	var re *azcore.ResponseError
	return errors.As(err, &re) && re.StatusCode == http.StatusNotFound
}
