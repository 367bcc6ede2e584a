package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"schematic-pipeline/internal/config"
	"schematic-pipeline/internal/domain"
	"schematic-pipeline/internal/domain/ports/adapter"

	"cloud.google.com/go/auth"
	"cloud.google.com/go/auth/credentials/idtoken"
	"github.com/rs/zerolog"
)

// Compile-time assurance the strategies satisfy the port
var (
	_ adapter.Generator = (*DirectGenerator)(nil)
	_ adapter.Generator = (*AuthenticatedGenerator)(nil)
)

const maxErrorBody = 512

// New picks the strategy once: Local talks to the endpoint directly,
// otherwise every call carries an identity token minted for the endpoint.
func New(cfg config.GeneratorConfig, logger *zerolog.Logger) (adapter.Generator, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("generator endpoint empty")
	}
	client := NewHTTPClient(cfg.Timeout)
	if cfg.Local {
		logger.Info().Str("endpoint", cfg.Endpoint).Msg("generator: direct mode")
		return NewDirectGenerator(cfg.Endpoint, client), nil
	}

	creds, err := idtoken.NewCredentials(&idtoken.Options{
		Audience:        cfg.Endpoint,
		CredentialsFile: cfg.CredentialsFile,
	})
	if err != nil {
		return nil, fmt.Errorf("identity token credentials: %w", err)
	}
	logger.Info().Str("endpoint", cfg.Endpoint).Msg("generator: authenticated mode")
	return NewAuthenticatedGenerator(cfg.Endpoint, client, creds), nil
}

// NewHTTPClient returns a client for streaming responses. headerTimeout
// bounds the wait for response headers; body reads are bounded only by the
// request context.
func NewHTTPClient(headerTimeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if headerTimeout > 0 {
		tr.ResponseHeaderTimeout = headerTimeout
	}
	return &http.Client{Transport: tr}
}

// DirectGenerator calls the endpoint without credentials (local runs and
// emulators).
type DirectGenerator struct {
	endpoint string
	client   *http.Client
}

func NewDirectGenerator(endpoint string, client *http.Client) *DirectGenerator {
	if client == nil {
		client = NewHTTPClient(0)
	}
	return &DirectGenerator{endpoint: endpoint, client: client}
}

func (g *DirectGenerator) Generate(ctx context.Context, prompt string) (io.ReadCloser, error) {
	req, err := newRequest(ctx, g.endpoint, prompt)
	if err != nil {
		return nil, err
	}
	return do(g.client, req)
}

// AuthenticatedGenerator attaches a bearer identity token to each call.
type AuthenticatedGenerator struct {
	endpoint string
	client   *http.Client
	tokens   auth.TokenProvider
}

func NewAuthenticatedGenerator(endpoint string, client *http.Client, tokens auth.TokenProvider) *AuthenticatedGenerator {
	if client == nil {
		client = NewHTTPClient(0)
	}
	return &AuthenticatedGenerator{endpoint: endpoint, client: client, tokens: tokens}
}

func (g *AuthenticatedGenerator) Generate(ctx context.Context, prompt string) (io.ReadCloser, error) {
	req, err := newRequest(ctx, g.endpoint, prompt)
	if err != nil {
		return nil, err
	}
	tok, err := g.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: identity token: %v", domain.ErrGenerationFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	return do(g.client, req)
}

func newRequest(ctx context.Context, endpoint, prompt string) (*http.Request, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: endpoint: %v", domain.ErrGenerationFailed, err)
	}
	q := u.Query()
	q.Set("prompt", prompt)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}
	return req, nil
}

func do(client *http.Client, req *http.Request) (io.ReadCloser, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}
	if resp.Body == nil {
		return nil, fmt.Errorf("%w: empty response body", domain.ErrGenerationFailed)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: http %d: %s", domain.ErrGenerationFailed,
			resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return resp.Body, nil
}
