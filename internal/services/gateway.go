package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/docshare/linkdrive/internal/apperr"
	"github.com/docshare/linkdrive/internal/config"
	"github.com/docshare/linkdrive/internal/storage"
	"github.com/docshare/linkdrive/pkg/logger"
	"github.com/ipfs/go-cid"
)

// Fetched is one strategy's answer before content-type recovery.
type Fetched struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// Strategy is one way of turning a content hash into bytes.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, hash string) (*Fetched, error)
}

// Content is a resolved object. Body must be closed; closing it also ends
// the attempt's deadline.
type Content struct {
	Hash        string        `json:"hash"`
	ContentType string        `json:"contentType"`
	Size        int64         `json:"size"`
	Strategy    string        `json:"strategy"`
	Body        io.ReadCloser `json:"-"`
}

// Gateway tries its strategies in order until one yields bytes.
type Gateway struct {
	Strategies []Strategy
	Timeout    time.Duration
}

// NewGateway builds the subdomain, path and direct-object chain. Gateways
// with no configured base URL are left out.
func NewGateway(cfg config.GatewayConfig, store storage.Store) *Gateway {
	client := &http.Client{}
	var strategies []Strategy
	if cfg.SubdomainURL != "" {
		strategies = append(strategies, &SubdomainGateway{BaseURL: cfg.SubdomainURL, Client: client})
	}
	if cfg.PathURL != "" {
		strategies = append(strategies, &PathGateway{BaseURL: cfg.PathURL, Client: client})
	}
	strategies = append(strategies, &ObjectReader{Store: store})
	return &Gateway{Strategies: strategies, Timeout: cfg.Timeout}
}

func (g *Gateway) Resolve(ctx context.Context, hash string) (*Content, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" || strings.ContainsAny(hash, "/?#") {
		return nil, apperr.E("gateway.resolve", hash, apperr.ErrInvalidPath, errors.New("malformed hash"))
	}

	var failures []error
	allNotFound := true
	for _, strategy := range g.Strategies {
		content, err := g.attempt(ctx, strategy, hash)
		if err == nil {
			logger.Info("content_resolved", map[string]interface{}{
				"hash":         hash,
				"strategy":     strategy.Name(),
				"content_type": content.ContentType,
			})
			return content, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, apperr.E("gateway.resolve", hash, nil, ctxErr)
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			allNotFound = false
		}
		failures = append(failures, fmt.Errorf("%s: %w", strategy.Name(), err))
		logger.Warn("gateway_strategy_failed", map[string]interface{}{
			"hash":     hash,
			"strategy": strategy.Name(),
			"error":    err.Error(),
		})
	}

	if allNotFound && len(failures) > 0 {
		return nil, apperr.E("gateway.resolve", hash, apperr.ErrNotFound, errors.Join(failures...))
	}
	return nil, apperr.E("gateway.resolve", hash, apperr.ErrRetrievalFailed, errors.Join(failures...))
}

// attempt runs one strategy under its own deadline, which stays armed until
// the returned body is closed.
func (g *Gateway) attempt(ctx context.Context, strategy Strategy, hash string) (*Content, error) {
	var actx context.Context
	var cancel context.CancelFunc
	if g.Timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, g.Timeout)
	} else {
		actx, cancel = context.WithCancel(ctx)
	}

	fetched, err := strategy.Fetch(actx, hash)
	if err != nil {
		cancel()
		return nil, err
	}

	contentType := fetched.ContentType
	var body io.Reader = fetched.Body
	if !usableContentType(contentType) {
		sniffed, peeked, err := Sniff(fetched.Body)
		if err != nil {
			_ = fetched.Body.Close()
			cancel()
			return nil, apperr.E("gateway."+strategy.Name(), hash, nil, err)
		}
		contentType = ResolveContentType("", sniffed, "")
		body = peeked
	}

	return &Content{
		Hash:        hash,
		ContentType: contentType,
		Size:        fetched.Size,
		Strategy:    strategy.Name(),
		Body:        &cancelOnClose{Reader: body, closer: fetched.Body, cancel: cancel},
	}, nil
}

type cancelOnClose struct {
	io.Reader
	closer io.Closer
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.closer.Close()
	c.cancel()
	return err
}

// SubdomainGateway fetches https://<cidv1>.ipfs.<host>/. CIDv0 hashes are
// upgraded since v0's base58 is not a valid DNS label.
type SubdomainGateway struct {
	BaseURL string
	Client  *http.Client
}

func (s *SubdomainGateway) Name() string { return "subdomain" }

func (s *SubdomainGateway) Fetch(ctx context.Context, hash string) (*Fetched, error) {
	c, err := cid.Decode(hash)
	if err != nil {
		return nil, apperr.E("gateway.subdomain", hash, apperr.ErrInvalidPath, err)
	}
	if c.Version() == 0 {
		c = cid.NewCidV1(c.Type(), c.Hash())
	}
	base, err := url.Parse(s.BaseURL)
	if err != nil || base.Host == "" {
		return nil, apperr.E("gateway.subdomain", s.BaseURL, apperr.ErrRetrievalFailed, fmt.Errorf("bad gateway url: %v", err))
	}
	target := *base
	target.Host = c.String() + ".ipfs." + base.Host
	target.Path = "/"
	return httpFetch(ctx, s.Client, "gateway.subdomain", hash, target.String())
}

// PathGateway fetches <base>/ipfs/<hash>.
type PathGateway struct {
	BaseURL string
	Client  *http.Client
}

func (p *PathGateway) Name() string { return "path" }

func (p *PathGateway) Fetch(ctx context.Context, hash string) (*Fetched, error) {
	return httpFetch(ctx, p.Client, "gateway.path", hash, strings.TrimSuffix(p.BaseURL, "/")+"/ipfs/"+url.PathEscape(hash))
}

// ObjectReader reads the object from the store itself.
type ObjectReader struct {
	Store storage.Store
}

func (o *ObjectReader) Name() string { return "object" }

func (o *ObjectReader) Fetch(ctx context.Context, hash string) (*Fetched, error) {
	rc, err := o.Store.ReadObject(ctx, hash)
	if err != nil {
		return nil, err
	}
	return &Fetched{Body: rc, Size: -1}, nil
}

func httpFetch(ctx context.Context, client *http.Client, op, hash, target string) (*Fetched, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, apperr.E(op, hash, apperr.ErrRetrievalFailed, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, apperr.E(op, hash, apperr.ErrTimeout, err)
		}
		return nil, apperr.E(op, hash, apperr.ErrRetrievalFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
		kind := apperr.ErrRetrievalFailed
		if resp.StatusCode == http.StatusNotFound {
			kind = apperr.ErrNotFound
		}
		return nil, apperr.E(op, hash, kind, fmt.Errorf("gateway status %d", resp.StatusCode))
	}
	return &Fetched{
		Body:        resp.Body,
		ContentType: resp.Header.Get("Content-Type"),
		Size:        resp.ContentLength,
	}, nil
}
