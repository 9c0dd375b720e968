package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dospill/internal/pkg/logx"
)

// DefaultB2APIURL is the account-authorization host.
const DefaultB2APIURL = "https://api.backblazeb2.com"

// B2Provider reserves upload URLs through the B2 native API: authorize the account,
// then ask for an upload URL for the bucket.
type B2Provider struct {
	keyID    string
	appKey   string
	bucketID string
	apiURL   string
	client   *http.Client
}

// NewB2Provider returns a provider for cfg. A nil client gets a 15s timeout client.
func NewB2Provider(cfg ServiceConfig, client *http.Client) *B2Provider {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	apiURL := cfg.B2APIURL
	if apiURL == "" {
		apiURL = DefaultB2APIURL
	}
	return &B2Provider{
		keyID:    cfg.B2KeyID,
		appKey:   cfg.B2AppKey,
		bucketID: cfg.B2BucketID,
		apiURL:   strings.TrimRight(apiURL, "/"),
		client:   client,
	}
}

func (p *B2Provider) Name() string { return ProviderB2 }

type b2Authorization struct {
	APIURL             string `json:"apiUrl"`
	AuthorizationToken string `json:"authorizationToken"`
}

type b2UploadURL struct {
	BucketID           string `json:"bucketId"`
	UploadURL          string `json:"uploadUrl"`
	AuthorizationToken string `json:"authorizationToken"`
}

// UploadURL ignores req: B2 names the file at upload time.
func (p *B2Provider) UploadURL(ctx context.Context, _ UploadRequest) (*Upload, error) {
	auth, err := p.authorize(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string]string{"bucketId": p.bucketID})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(auth.APIURL, "/")+"/b2api/v2/b2_get_upload_url", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", auth.AuthorizationToken)
	req.Header.Set("Content-Type", "application/json")

	var out b2UploadURL
	if err := p.do(req, &out); err != nil {
		return nil, fmt.Errorf("b2_get_upload_url: %w", err)
	}
	if out.UploadURL == "" || out.AuthorizationToken == "" {
		return nil, fmt.Errorf("b2_get_upload_url: incomplete response")
	}

	return &Upload{
		UploadURL:          out.UploadURL,
		AuthorizationToken: out.AuthorizationToken,
		BucketID:           out.BucketID,
		Method:             http.MethodPost,
	}, nil
}

func (p *B2Provider) authorize(ctx context.Context) (*b2Authorization, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL+"/b2api/v2/b2_authorize_account", nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(p.keyID, p.appKey)

	var auth b2Authorization
	if err := p.do(req, &auth); err != nil {
		return nil, fmt.Errorf("b2_authorize_account: %w", err)
	}
	if auth.APIURL == "" || auth.AuthorizationToken == "" {
		return nil, fmt.Errorf("b2_authorize_account: incomplete response")
	}
	return &auth, nil
}

// do sends req and decodes a 200 JSON body into dst.
func (p *B2Provider) do(req *http.Request, dst any) error {
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		logx.Warn("B2 request rejected", "url", req.URL.Path, "status", resp.StatusCode, "body", string(snippet))
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
