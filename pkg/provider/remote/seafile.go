package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SeafileBackend talks to a Seafile library over its REST API (api2), one
// block per object, named "<block_id>.block". It mirrors the two-hop
// access pattern Seafile requires: a metadata call returns a one-shot
// signed URL, and the actual bytes are fetched from or posted to that URL.
type SeafileBackend struct {
	http       *http.Client
	baseURL    string // e.g. "https://cloud.example.edu/api2"
	token      string
	libraryID  string
	libraryURL string
}

// SeafileConfig configures a SeafileBackend.
type SeafileConfig struct {
	BaseURL   string
	Token     string
	LibraryID string
	Timeout   time.Duration
}

// NewSeafileBackend builds a backend against the given library. It does not
// probe connectivity itself — callers that want a connect-time health check
// should call Ping.
func NewSeafileBackend(cfg SeafileConfig) *SeafileBackend {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SeafileBackend{
		// http.DefaultTransport already honors HTTP_PROXY/HTTPS_PROXY/NO_PROXY
		// via http.ProxyFromEnvironment, so no explicit proxy wiring is needed.
		http:       &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		token:      cfg.Token,
		libraryID:  cfg.LibraryID,
		libraryURL: strings.TrimSuffix(cfg.BaseURL, "/") + "/repos/" + cfg.LibraryID + "/",
	}
}

func (s *SeafileBackend) authHeader(req *http.Request) {
	req.Header.Set("Authorization", "Token "+s.token)
}

// Ping verifies the configured token is valid and the library is reachable.
// BuildExportTable in internal/config calls it once per seafile export at
// startup, one export at a time, and fails startup if it errors.
func (s *SeafileBackend) Ping(ctx context.Context) error {
	if err := s.get(ctx, s.baseURL+"/auth/ping/", http.StatusOK, nil); err != nil {
		return fmt.Errorf("seafile: auth ping: %w", err)
	}
	if err := s.get(ctx, s.libraryURL, http.StatusOK, nil); err != nil {
		return fmt.Errorf("seafile: library %s unreachable: %w", s.libraryID, err)
	}
	return nil
}

func (s *SeafileBackend) get(ctx context.Context, rawURL string, wantStatus int, body *[]byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	s.authHeader(req)

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != wantStatus {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if body != nil {
		*body = data
	}
	return nil
}

func blockName(blockID int64) string {
	return strconv.FormatInt(blockID, 10) + ".block"
}

// unquote strips the surrounding double quotes Seafile wraps signed URLs in.
func unquote(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	return strings.Trim(s, `"`)
}

func (s *SeafileBackend) fileURL(blockID int64) string {
	q := url.Values{"p": {"/" + blockName(blockID)}}
	return s.libraryURL + "file/?" + q.Encode()
}

func (s *SeafileBackend) uploadLinkURL() string {
	q := url.Values{"p": {"/"}}
	return s.libraryURL + "upload-link/?" + q.Encode()
}

// FetchBlock reads one block's contents into buf. A 404 from the metadata
// lookup means the block has never been written and is treated as a
// zero-filled read, not an error — this matches object-store semantics
// where an export's unwritten tail simply doesn't exist as an object yet.
func (s *SeafileBackend) FetchBlock(ctx context.Context, blockID int64, buf []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.fileURL(blockID), nil)
	if err != nil {
		return err
	}
	s.authHeader(req)

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	meta, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("read metadata response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return nil
	case http.StatusOK:
		// fall through
	default:
		return fmt.Errorf("seafile: unexpected metadata status %d for block %d", resp.StatusCode, blockID)
	}

	signedURL := unquote(meta)
	return s.downloadInto(ctx, signedURL, buf)
}

func (s *SeafileBackend) downloadInto(ctx context.Context, signedURL string, buf []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signedURL, nil)
	if err != nil {
		return err
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("seafile: unexpected download status %d", resp.StatusCode)
	}

	n, err := io.ReadFull(resp.Body, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return fmt.Errorf("download block: %w", err)
	}
	// A short object (e.g. the last block of an export that was never
	// fully written) zero-fills the remainder of buf.
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

// UploadBlock writes buf as the block's object, replacing any existing
// object at that path. Unlike the system this was modeled on, a 404 while
// requesting the upload link is a hard error (ErrUploadLinkMissing): that
// system treated it as silent success, which would drop the write entirely.
func (s *SeafileBackend) UploadBlock(ctx context.Context, blockID int64, buf []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.uploadLinkURL(), nil)
	if err != nil {
		return err
	}
	s.authHeader(req)

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	linkBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("read upload-link response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return ErrUploadLinkMissing
	case http.StatusOK:
		// fall through
	default:
		return fmt.Errorf("seafile: unexpected upload-link status %d", resp.StatusCode)
	}

	uploadURL := unquote(linkBody)
	return s.postMultipart(ctx, uploadURL, blockID, buf)
}

func (s *SeafileBackend) postMultipart(ctx context.Context, uploadURL string, blockID int64, buf []byte) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("parent_dir", "/"); err != nil {
		return err
	}
	if err := writer.WriteField("replace", "1"); err != nil {
		return err
	}
	part, err := writer.CreateFormFile("file", blockName(blockID))
	if err != nil {
		return err
	}
	if _, err := part.Write(buf); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("seafile: upload failed with status %d", resp.StatusCode)
	}
	return nil
}

var _ Backend = (*SeafileBackend)(nil)
