// Package canvas is a small client for the Canvas LMS REST API: roster
// lookup, grade posting and the three-step submission-comment upload.
package canvas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/bundle"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 8 << 20
	rosterPageSize = 100
)

type Options struct {
	// Host is a bare host ("school.instructure.com") or a base URL.
	Host  string
	Token string

	// Timeout bounds each request when HTTPClient is nil (default 30s).
	Timeout    time.Duration
	HTTPClient *http.Client
	UserAgent  string
}

type Client struct {
	baseURL   string
	token     string
	http      *http.Client
	userAgent string

	// noRedirect is http with redirects disabled, for the upload POST.
	noRedirect *http.Client
}

// UploadSlot is the pre-signed target returned by RequestUploadSlot.
type UploadSlot struct {
	URL    string
	Params map[string]string
}

func New(opts Options) (*Client, error) {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		return nil, errors.New("canvas host is required")
	}
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	if _, err := url.ParseRequestURI(host); err != nil {
		return nil, fmt.Errorf("invalid canvas host: %w", err)
	}
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("canvas API token is required")
	}

	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "gradebridge/1.0"
	}

	noRedirect := *client
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Client{
		baseURL:    strings.TrimRight(host, "/"),
		token:      strings.TrimSpace(opts.Token),
		http:       client,
		userAgent:  ua,
		noRedirect: &noRedirect,
	}, nil
}

type enrollment struct {
	UserID int64 `json:"user_id"`
	User   struct {
		LoginID   string `json:"login_id"`
		SISUserID string `json:"sis_user_id"`
	} `json:"user"`
}

// LookupRoster maps each student's normalized login to their Canvas user
// id, following Link pagination.
func (c *Client) LookupRoster(ctx context.Context, courseID string) (map[string]int64, error) {
	const op = "lookup_roster"

	q := url.Values{}
	q.Set("per_page", strconv.Itoa(rosterPageSize))
	q.Add("type[]", "StudentEnrollment")
	next := c.courseURL(courseID, "enrollments") + "?" + q.Encode()

	roster := make(map[string]int64)
	for pages := 0; next != ""; pages++ {
		if pages >= 100 {
			return nil, hostErr(op, 0, errors.New("too many roster pages"))
		}

		body, header, status, err := c.do(ctx, http.MethodGet, next, "", nil, true)
		if err != nil {
			return nil, hostErr(op, status, err)
		}

		var page []enrollment
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, hostErr(op, status, fmt.Errorf("decode enrollments: %w", err))
		}
		for _, e := range page {
			login := e.User.LoginID
			if strings.TrimSpace(login) == "" {
				login = e.User.SISUserID
			}
			if id := NormalizeLogin(login); id != "" && e.UserID != 0 {
				roster[id] = e.UserID
			}
		}
		next = nextLink(header.Get("Link"))
	}
	return roster, nil
}

// PostGrade sets the posted grade.  Canvas overwrites the previous value,
// so repeating it is harmless.
func (c *Client) PostGrade(ctx context.Context, courseID, assignmentID string, userID int64, points float64) error {
	q := url.Values{}
	q.Set("submission[posted_grade]", strconv.FormatFloat(points, 'f', -1, 64))
	u := c.submissionURL(courseID, assignmentID, userID) + "?" + q.Encode()

	body, _, status, err := c.do(ctx, http.MethodPut, u, "", nil, true)
	if err != nil {
		return hostErr("post_grade", status, err)
	}
	if err := expectJSONObject(body); err != nil {
		return hostErr("post_grade", status, err)
	}
	return nil
}

// RequestUploadSlot starts a submission-comment file upload and returns
// the short-lived target the bytes must be posted to.
func (c *Client) RequestUploadSlot(ctx context.Context, courseID, assignmentID string, userID int64, filename string) (UploadSlot, error) {
	const op = "request_upload_slot"

	form := url.Values{}
	form.Set("name", filename)
	form.Set("content_type", bundle.ContentType)
	form.Set("on_duplicate", "rename")
	u := c.submissionURL(courseID, assignmentID, userID) + "/comments/files"

	body, _, status, err := c.do(ctx, http.MethodPost, u, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), true)
	if err != nil {
		return UploadSlot{}, hostErr(op, status, err)
	}

	var resp struct {
		UploadURL    string         `json:"upload_url"`
		UploadParams map[string]any `json:"upload_params"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return UploadSlot{}, hostErr(op, status, fmt.Errorf("decode upload slot: %w", err))
	}
	if resp.UploadURL == "" {
		return UploadSlot{}, hostErr(op, status, errors.New("response has no upload_url"))
	}

	slot := UploadSlot{URL: resp.UploadURL, Params: make(map[string]string, len(resp.UploadParams))}
	for k, v := range resp.UploadParams {
		switch x := v.(type) {
		case string:
			slot.Params[k] = x
		case nil:
		default:
			slot.Params[k] = fmt.Sprint(x)
		}
	}
	return slot, nil
}

// UploadBytes posts data to the slot's URL as multipart form data, the
// slot params first and the file last, and returns the new file id.  The
// slot URL is pre-signed, so no bearer token is sent.  A redirect or a
// bare 201 is confirmed with an authenticated GET to Location.
func (c *Client) UploadBytes(ctx context.Context, slot UploadSlot, filename string, data []byte) (int64, error) {
	const op = "upload_bytes"

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range slot.Params {
		if err := mw.WriteField(k, v); err != nil {
			return 0, hostErr(op, 0, err)
		}
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return 0, hostErr(op, 0, err)
	}
	if _, err := fw.Write(data); err != nil {
		return 0, hostErr(op, 0, err)
	}
	if err := mw.Close(); err != nil {
		return 0, hostErr(op, 0, err)
	}

	body, header, status, err := c.roundTrip(ctx, c.noRedirect, http.MethodPost, slot.URL, mw.FormDataContentType(), &buf, false)
	if err != nil {
		return 0, hostErr(op, status, err)
	}

	switch {
	case status >= 300 && status < 400:
		// The storage backend redirects to an authenticated confirm URL.
		loc, err := resolveLocation(slot.URL, header.Get("Location"))
		if err != nil {
			return 0, hostErr(op, status, err)
		}
		if body, _, status, err = c.do(ctx, http.MethodGet, loc, "", nil, true); err != nil {
			return 0, hostErr("confirm_upload", status, err)
		}
	case status < 200 || status >= 300:
		return 0, hostErr(op, status, fmt.Errorf("unexpected status: %s", snippet(body)))
	}

	id, err := fileID(body)
	if err != nil && status == http.StatusCreated && header.Get("Location") != "" {
		// 201 with an empty body: the file record lives at Location.
		loc, lerr := resolveLocation(slot.URL, header.Get("Location"))
		if lerr != nil {
			return 0, hostErr(op, status, lerr)
		}
		if body, _, status, err = c.do(ctx, http.MethodGet, loc, "", nil, true); err != nil {
			return 0, hostErr("confirm_upload", status, err)
		}
		id, err = fileID(body)
	}
	if err != nil {
		return 0, hostErr(op, status, err)
	}
	return id, nil
}

func fileID(body []byte) (int64, error) {
	var resp struct {
		ID json.Number `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode upload response: %w", err)
	}
	id, err := resp.ID.Int64()
	if err != nil || id == 0 {
		return 0, fmt.Errorf("upload response has no file id (%q)", resp.ID)
	}
	return id, nil
}

func resolveLocation(base, loc string) (string, error) {
	if strings.TrimSpace(loc) == "" {
		return "", errors.New("redirect without Location")
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	l, err := url.Parse(loc)
	if err != nil {
		return "", fmt.Errorf("bad Location: %w", err)
	}
	return b.ResolveReference(l).String(), nil
}

// AttachAndClear attaches fileID to the submission as a comment, clears
// the late/missing status and marks the submission read.
func (c *Client) AttachAndClear(ctx context.Context, courseID, assignmentID string, userID int64, fileID int64, comment string) error {
	const op = "attach_and_clear"

	form := url.Values{}
	form.Add("comment[file_ids][]", strconv.FormatInt(fileID, 10))
	if comment != "" {
		form.Set("comment[text_comment]", comment)
	}
	form.Set("submission[late_policy_status]", "none")
	form.Set("submission[seconds_late_override]", "0")
	u := c.submissionURL(courseID, assignmentID, userID)

	body, _, status, err := c.do(ctx, http.MethodPut, u, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), true)
	if err != nil {
		return hostErr(op, status, err)
	}
	if err := expectJSONObject(body); err != nil {
		return hostErr(op, status, err)
	}

	if _, _, status, err := c.do(ctx, http.MethodPut, u+"/read", "", nil, true); err != nil {
		return hostErr("mark_read", status, err)
	}
	return nil
}

func (c *Client) courseURL(courseID, rest string) string {
	return c.baseURL + "/api/v1/courses/" + url.PathEscape(courseID) + "/" + rest
}

func (c *Client) submissionURL(courseID, assignmentID string, userID int64) string {
	return c.courseURL(courseID, "assignments/"+url.PathEscape(assignmentID)+"/submissions/"+strconv.FormatInt(userID, 10))
}

// do sends a request and treats any non-2xx status as an error.
func (c *Client) do(ctx context.Context, method, u, contentType string, body io.Reader, auth bool) ([]byte, http.Header, int, error) {
	b, header, status, err := c.roundTrip(ctx, c.http, method, u, contentType, body, auth)
	if err != nil {
		return nil, header, status, err
	}
	if status < 200 || status >= 300 {
		return nil, header, status, fmt.Errorf("unexpected status: %s", snippet(b))
	}
	return b, header, status, nil
}

func (c *Client) roundTrip(ctx context.Context, client *http.Client, method, u, contentType string, body io.Reader, auth bool) ([]byte, http.Header, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, 0, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.Header, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return b, resp.Header, resp.StatusCode, nil
}

func expectJSONObject(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
