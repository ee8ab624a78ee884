package cli

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"time"
)

type daemonClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newDaemonClient(baseURL, token string) *daemonClient {
	return &daemonClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *daemonClient) post(path string, body any) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	return c.http.Do(req)
}

// postJSON posts and decodes a plain JSON response into out.
func (c *daemonClient) postJSON(path string, body, out any) error {
	resp, err := c.post(path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type operationalDataPage struct {
	RecordsCount    int                          `json:"recordsCount"`
	NextRecordsFrom *int64                       `json:"nextRecordsFrom"`
	Records         []map[string]json.RawMessage `json:"records"`
}

// queryOperationalData posts the query and unpacks the multipart response:
// a JSON summary part followed by a gzip attachment with the records.
func (c *daemonClient) queryOperationalData(body any) (*operationalDataPage, error) {
	resp, err := c.post("/query/operational-data", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("parsing response content type: %w", err)
	}
	if mediaType != "multipart/related" {
		return nil, fmt.Errorf("unexpected response type %q", mediaType)
	}

	mr := multipart.NewReader(resp.Body, params["boundary"])

	var page operationalDataPage
	summaryPart, err := mr.NextPart()
	if err != nil {
		return nil, fmt.Errorf("reading summary part: %w", err)
	}
	if err := json.NewDecoder(summaryPart).Decode(&page); err != nil {
		return nil, fmt.Errorf("decoding summary: %w", err)
	}

	recordsPart, err := mr.NextPart()
	if err != nil {
		return nil, fmt.Errorf("reading records part: %w", err)
	}
	gz, err := gzip.NewReader(recordsPart)
	if err != nil {
		return nil, fmt.Errorf("opening records attachment: %w", err)
	}
	var payload struct {
		Records []map[string]json.RawMessage `json:"records"`
	}
	if err := json.NewDecoder(gz).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding records: %w", err)
	}
	page.Records = payload.Records

	return &page, nil
}

func responseError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var fault struct {
		Code   string `json:"faultCode"`
		String string `json:"faultString"`
	}
	if json.Unmarshal(raw, &fault) == nil && fault.Code != "" {
		return fmt.Errorf("%s: %s", fault.Code, fault.String)
	}
	return fmt.Errorf("daemon returned %s: %s", resp.Status, bytes.TrimSpace(raw))
}
