package ghsync

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

var (
	ErrNotFound = errors.New("remote file not found")
	// ErrConflict means the expected sha no longer matches the remote file.
	ErrConflict = errors.New("remote version conflict")
)

// Remote is a content host addressed by path with sha-based versions.
type Remote interface {
	// GetSHA returns the current version of path, or ErrNotFound.
	GetSHA(ctx context.Context, path string) (string, error)
	// Put writes content to path. An empty sha creates the file.
	Put(ctx context.Context, path string, content []byte, message, sha string) error
}

// BlobSHA is the git object id GitHub reports for a file with this content.
func BlobSHA(content []byte) string {
	h := sha1.New()
	h.Write([]byte("blob " + strconv.Itoa(len(content)) + "\x00"))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github: status %d: %s", e.Status, e.Body)
}

// GitHub talks to the repository contents API.
type GitHub struct {
	baseURL string
	repo    string
	branch  string
	token   string
	client  *http.Client
}

func NewGitHub(baseURL, repo, branch, token string, client *http.Client) *GitHub {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &GitHub{
		baseURL: strings.TrimRight(baseURL, "/"),
		repo:    repo,
		branch:  branch,
		token:   token,
		client:  client,
	}
}

func (g *GitHub) contentsURL(path string) string {
	segs := strings.Split(path, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return g.baseURL + "/repos/" + g.repo + "/contents/" + strings.Join(segs, "/")
}

func (g *GitHub) do(req *http.Request) (*http.Response, []byte, error) {
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp, nil, err
	}
	return resp, body, nil
}

func (g *GitHub) GetSHA(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.contentsURL(path)+"?ref="+url.QueryEscape(g.branch), nil)
	if err != nil {
		return "", err
	}
	resp, body, err := g.do(req)
	if err != nil {
		return "", fmt.Errorf("get %s: %w", path, err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", ErrNotFound
	default:
		return "", fmt.Errorf("get %s: %w", path, &APIError{Status: resp.StatusCode, Body: string(body)})
	}
	var meta struct {
		SHA string `json:"sha"`
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		return "", fmt.Errorf("decode %s: %w", path, err)
	}
	return meta.SHA, nil
}

type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch"`
	SHA     string `json:"sha,omitempty"`
}

func (g *GitHub) Put(ctx context.Context, path string, content []byte, message, sha string) error {
	payload, err := json.Marshal(putRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(content),
		Branch:  g.branch,
		SHA:     sha,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, g.contentsURL(path), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, body, err := g.do(req)
	if err != nil {
		return fmt.Errorf("put %s: %w", path, err)
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return nil
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return fmt.Errorf("put %s: %w (%w)", path, ErrConflict, &APIError{Status: resp.StatusCode, Body: string(body)})
	default:
		return fmt.Errorf("put %s: %w", path, &APIError{Status: resp.StatusCode, Body: string(body)})
	}
}
