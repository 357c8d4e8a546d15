package subman

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openvirt/inventory-agent/internal/models"
)

const defaultRetryAfter = 60 * time.Second

// Client reports host/guest inventory to the subscription-management
// service: host-to-guest associations via the hypervisor checkin endpoint,
// flat guest lists via the guests endpoint, and job polling for checkins
// the service processes asynchronously.
type Client struct {
	baseURL    *url.URL
	reporterID string
	http       *http.Client
}

func NewClient(baseURL, reporterID string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid destination url %q: %w", baseURL, err)
	}
	if reporterID == "" {
		reporterID = GenerateReporterID()
	}
	return &Client{
		baseURL:    u,
		reporterID: reporterID,
		http:       &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// GenerateReporterID builds a stable-enough identity for this agent
// instance: the hostname plus a random suffix.
func GenerateReporterID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%s", hostname, uuid.NewString())
}

type checkinRequest struct {
	ReporterID  string              `json:"reporter_id"`
	Source      string              `json:"source"`
	Hypervisors []models.Hypervisor `json:"hypervisors"`
}

type guestListRequest struct {
	ReporterID string         `json:"reporter_id"`
	Source     string         `json:"source"`
	Guests     []models.Guest `json:"guests"`
}

type jobEnvelope struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// Send delivers one report. The report's state is advanced to FINISHED
// when the service processed it synchronously, or to PROCESSING with a job
// id when the result is computed asynchronously.
func (c *Client) Send(ctx context.Context, report models.Report) error {
	switch r := report.(type) {
	case *models.HostGuestReport:
		return c.hypervisorCheckin(ctx, r)
	case *models.DomainListReport:
		return c.sendGuestList(ctx, r)
	case *models.ErrorReport:
		return &SendError{Message: "error reports are not transmittable"}
	default:
		return &SendError{Message: fmt.Sprintf("unknown report type %T", report)}
	}
}

func (c *Client) hypervisorCheckin(ctx context.Context, report *models.HostGuestReport) error {
	body := checkinRequest{
		ReporterID:  c.reporterID,
		Source:      report.Config().Name,
		Hypervisors: report.Hypervisors(),
	}
	zap.S().Debugw("sending host-to-guest association",
		"source", report.Config().Name, "hypervisors", len(body.Hypervisors))

	resp, err := c.do(ctx, http.MethodPut, "/hypervisors/checkin", body)
	if err != nil {
		return err
	}
	defer drainBody(resp)

	switch resp.StatusCode {
	case http.StatusNoContent:
		report.SetState(models.ReportStateFinished)
		return nil
	case http.StatusOK, http.StatusAccepted:
		var job jobEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&job); err != nil || job.ID == "" {
			// No job envelope means the checkin completed in-band.
			report.SetState(models.ReportStateFinished)
			return nil
		}
		report.SetJobID(job.ID)
		report.SetState(models.ReportStateProcessing)
		return nil
	default:
		return c.statusError(resp)
	}
}

func (c *Client) sendGuestList(ctx context.Context, report *models.DomainListReport) error {
	body := guestListRequest{
		ReporterID: c.reporterID,
		Source:     report.Config().Name,
		Guests:     report.Guests(),
	}
	zap.S().Debugw("sending guest list", "source", report.Config().Name, "guests", len(body.Guests))

	resp, err := c.do(ctx, http.MethodPut, "/guests", body)
	if err != nil {
		return err
	}
	defer drainBody(resp)

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent {
		report.SetState(models.ReportStateFinished)
		return nil
	}
	return c.statusError(resp)
}

// CheckStatus polls the job created for an asynchronously-accepted report
// and advances the report state accordingly.
func (c *Client) CheckStatus(ctx context.Context, report models.Report) error {
	jobID := report.JobID()
	if jobID == "" {
		return &SendError{Message: "report has no job to poll"}
	}
	zap.S().Debugw("checking job status", "job", jobID)

	resp, err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return err
	}
	defer drainBody(resp)

	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp)
	}

	var job jobEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return &SendError{Message: "malformed job envelope", Err: err}
	}

	switch job.State {
	case "CREATED", "PENDING", "RUNNING":
		// Still processing; leave the report as is.
	case "FINISHED":
		report.SetState(models.ReportStateFinished)
	default:
		// Unknown terminal states count as failures.
		report.SetState(models.ReportStateFailed)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &SendError{Message: "encoding request", Err: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.JoinPath(path).String(), reader)
	if err != nil {
		return nil, &SendError{Message: "building request", Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &SendError{Message: "request failed", Err: err}
	}
	return resp, nil
}

// statusError maps a non-success HTTP status onto the outcome taxonomy:
// 429 is a throttle signal, 401/403 are fatal, anything else recovers.
func (c *Client) statusError(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return &ThrottleError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &FatalError{Message: fmt.Sprintf("destination rejected credentials (status %d)", resp.StatusCode)}
	default:
		return &SendError{Message: fmt.Sprintf("destination returned status %d", resp.StatusCode)}
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return defaultRetryAfter
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return defaultRetryAfter
	}
	return time.Duration(seconds) * time.Second
}

func drainBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
