// Package backend is the HTTP client for the document analysis backend.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/kirillkom/document-verifier/internal/core/domain"
	"github.com/kirillkom/document-verifier/internal/infrastructure/resilience"
)

const (
	maxReportBody        = 10 << 20
	defaultTimeout       = 15 * time.Second
	defaultUploadTimeout = 5 * time.Minute
)

// Options tune the client. Timeout bounds status, analyze and report calls;
// UploadTimeout bounds the whole multipart upload.
type Options struct {
	Timeout       time.Duration
	UploadTimeout time.Duration
	Executor      *resilience.Executor
	HTTPClient    *http.Client
}

type Client struct {
	baseURL       string
	timeout       time.Duration
	uploadTimeout time.Duration
	httpClient    *http.Client
	executor      *resilience.Executor
}

func New(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = defaultUploadTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		timeout:       opts.Timeout,
		uploadTimeout: opts.UploadTimeout,
		httpClient:    opts.HTTPClient,
		executor:      opts.Executor,
	}
}

func (c *Client) UploadDocument(
	ctx context.Context,
	session domain.Session,
	file domain.SelectedFile,
	body io.Reader,
	progress func(percent int),
) (string, error) {
	const op = "upload document"
	endpoint := c.baseURL + "/documents/upload?" + url.Values{"user_id": {session.UserID}}.Encode()

	documentID, err := resilience.Call(ctx, c.executor, "backend.upload", withDeadline(c.uploadTimeout, func(ctx context.Context) (string, error) {
		pr, pw := io.Pipe()
		defer pr.Close()
		writer := multipart.NewWriter(pw)
		go writeMultipart(pw, writer, file, &progressReader{r: body, total: file.Size, report: progress})

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
		if err != nil {
			return "", fmt.Errorf("create upload request: %w", err)
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.Header.Set("Accept", "application/json")

		var response struct {
			DocumentID string `json:"document_id"`
			ID         string `json:"id"`
		}
		if err := c.do(req, op, &response); err != nil {
			return "", err
		}
		id := firstNonEmpty(response.DocumentID, response.ID)
		if id == "" {
			return "", domain.NewError(domain.ErrServer, op, domain.GenericServerMessage, fmt.Errorf("upload response has no document id"))
		}
		return id, nil
	}), classify)
	if err != nil {
		return "", transportError(op, err)
	}
	return documentID, nil
}

func writeMultipart(pw *io.PipeWriter, writer *multipart.Writer, file domain.SelectedFile, body io.Reader) {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(file.Name)))
	mimeType := file.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	header.Set("Content-Type", mimeType)

	part, err := writer.CreatePart(header)
	if err != nil {
		pw.CloseWithError(err)
		return
	}
	if _, err := io.Copy(part, body); err != nil {
		pw.CloseWithError(err)
		return
	}
	pw.CloseWithError(writer.Close())
}

func (c *Client) ProcessingStatus(ctx context.Context, documentID string) (domain.ProcessingStatus, error) {
	const op = "poll status"
	endpoint := fmt.Sprintf("%s/documents/%s/status", c.baseURL, url.PathEscape(documentID))

	status, err := resilience.Call(ctx, c.executor, "backend.status", withDeadline(c.timeout, func(ctx context.Context) (domain.ProcessingStatus, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return domain.ProcessingStatus{}, fmt.Errorf("create status request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		var status domain.ProcessingStatus
		if err := c.do(req, op, &status); err != nil {
			return domain.ProcessingStatus{}, err
		}
		return status, nil
	}), classify)
	if err != nil {
		return domain.ProcessingStatus{}, transportError(op, err)
	}
	return status, nil
}

func (c *Client) StartAnalysis(ctx context.Context, session domain.Session, documentID string) (string, error) {
	const op = "start analysis"
	endpoint := fmt.Sprintf("%s/documents/%s/analyze?%s",
		c.baseURL, url.PathEscape(documentID), url.Values{"user_id": {session.UserID}}.Encode())

	analysisID, err := resilience.Call(ctx, c.executor, "backend.analyze", withDeadline(c.timeout, func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
		if err != nil {
			return "", fmt.Errorf("create analyze request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		var response struct {
			AnalysisID string `json:"analysis_id"`
			ID         string `json:"id"`
		}
		if err := c.do(req, op, &response); err != nil {
			return "", err
		}
		id := firstNonEmpty(response.AnalysisID, response.ID)
		if id == "" {
			return "", domain.NewError(domain.ErrServer, op, domain.GenericServerMessage, fmt.Errorf("analyze response has no analysis id"))
		}
		return id, nil
	}), classify)
	if err != nil {
		return "", transportError(op, err)
	}
	return analysisID, nil
}

func (c *Client) FetchReport(ctx context.Context, analysisID string) (json.RawMessage, error) {
	const op = "fetch report"
	endpoint := fmt.Sprintf("%s/analysis/%s", c.baseURL, url.PathEscape(analysisID))

	raw, err := resilience.Call(ctx, c.executor, "backend.report", withDeadline(c.timeout, func(ctx context.Context) (json.RawMessage, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("create report request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, statusError(op, resp)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxReportBody))
		if err != nil {
			return nil, fmt.Errorf("read report body: %w", err)
		}
		return json.RawMessage(body), nil
	}), classify)
	if err != nil {
		return nil, transportError(op, err)
	}
	return raw, nil
}

func (c *Client) do(req *http.Request, operation string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(operation, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.NewError(domain.ErrServer, operation, domain.GenericServerMessage, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	last   int
	report func(int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.report != nil && p.total > 0 {
		p.read += int64(n)
		percent := int(p.read * 100 / p.total)
		if percent > 100 {
			percent = 100
		}
		if percent > p.last {
			p.last = percent
			p.report(percent)
		}
	}
	return n, err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
