package nostr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// UploadImage posts jpeg bytes to the image server with a NIP-98 authorization
// header and returns the public URL of the stored image. Servers behind NAT
// tend to answer with localhost URLs, so those are rewritten to the upload
// host.
func (s *Service) UploadImage(ctx context.Context, jpeg []byte) (string, error) {
	if s == nil {
		return "", fmt.Errorf("nostr service is nil")
	}
	uploadURL := strings.TrimSpace(s.cfg.UploadURL)
	if uploadURL == "" {
		return "", fmt.Errorf("upload url is not configured")
	}
	if len(jpeg) == 0 {
		return "", fmt.Errorf("image is empty")
	}

	auth, err := s.nip98Header(uploadURL, http.MethodPost)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "image.jpg")
	if err != nil {
		return "", fmt.Errorf("multipart: %w", err)
	}
	if _, err := fw.Write(jpeg); err != nil {
		return "", fmt.Errorf("multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &body)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", auth)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("upload response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(data, &out); err != nil || out.URL == "" {
		return "", fmt.Errorf("unexpected upload response: %s", strings.TrimSpace(string(data)))
	}
	return rewriteLocalhost(out.URL, uploadURL), nil
}

// nip98Header builds the "Nostr <base64 event>" authorization value: a signed
// kind-27235 event carrying the request URL and method.
func (s *Service) nip98Header(requestURL, method string) (string, error) {
	ev := nostr.Event{
		Kind:      27235, // nostr.KindHTTPAuth (constant not present in go-nostr v0.35.0)
		CreatedAt: nostr.Now(),
		Tags: nostr.Tags{
			{"u", requestURL},
			{"method", method},
		},
	}
	if err := ev.Sign(s.agentSK); err != nil {
		return "", fmt.Errorf("auth sign: %w", err)
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("auth encode: %w", err)
	}
	return "Nostr " + base64.StdEncoding.EncodeToString(raw), nil
}

func rewriteLocalhost(imageURL, uploadURL string) string {
	iu, err := url.Parse(imageURL)
	if err != nil {
		return imageURL
	}
	host := iu.Hostname()
	if host != "localhost" && host != "127.0.0.1" {
		return imageURL
	}
	uu, err := url.Parse(uploadURL)
	if err != nil {
		return imageURL
	}
	iu.Host = uu.Host
	return iu.String()
}
