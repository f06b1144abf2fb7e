package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RecordStatus is the validity of one DNS authentication record
type RecordStatus struct {
	Valid bool   `json:"valid"`
	Value string `json:"value,omitempty"`
}

// DomainHealth is the authentication posture of a sending domain
type DomainHealth struct {
	SPF   RecordStatus `json:"spf"`
	DKIM  RecordStatus `json:"dkim"`
	DMARC RecordStatus `json:"dmarc"`
	MX    RecordStatus `json:"mx"`
}

// DomainHealthService resolves the DNS authentication records of a domain
type DomainHealthService interface {
	Check(ctx context.Context, domain string) (*DomainHealth, error)
}

// DNSDomainHealthService implements DomainHealthService with live DNS lookups
type DNSDomainHealthService struct {
	resolver *net.Resolver
	// DKIM selectors probed in order; the first selector with a key record wins.
	dkimSelectors []string
}

// NewDNSDomainHealthService creates a new DNS-backed domain health service
func NewDNSDomainHealthService(dkimSelectors []string) DomainHealthService {
	if len(dkimSelectors) == 0 {
		dkimSelectors = []string{"default", "google", "selector1", "k1"}
	}
	return &DNSDomainHealthService{
		resolver:      net.DefaultResolver,
		dkimSelectors: dkimSelectors,
	}
}

func (s *DNSDomainHealthService) Check(ctx context.Context, domain string) (*DomainHealth, error) {
	if domain == "" {
		return nil, fmt.Errorf("domain is required")
	}

	health := &DomainHealth{}

	txts, err := s.resolver.LookupTXT(ctx, domain)
	if err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("TXT lookup for %s failed: %w", domain, err)
	}
	for _, txt := range txts {
		if strings.HasPrefix(txt, "v=spf1") {
			health.SPF = RecordStatus{Valid: true, Value: txt}
			break
		}
	}

	for _, selector := range s.dkimSelectors {
		name := fmt.Sprintf("%s._domainkey.%s", selector, domain)
		records, err := s.resolver.LookupTXT(ctx, name)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("DKIM lookup for %s failed: %w", name, err)
		}
		for _, txt := range records {
			if strings.Contains(txt, "v=DKIM1") || strings.Contains(txt, "p=") {
				health.DKIM = RecordStatus{Valid: true, Value: txt}
				break
			}
		}
		if health.DKIM.Valid {
			break
		}
	}

	dmarcName := "_dmarc." + domain
	dmarcTxts, err := s.resolver.LookupTXT(ctx, dmarcName)
	if err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("DMARC lookup for %s failed: %w", dmarcName, err)
	}
	for _, txt := range dmarcTxts {
		if strings.HasPrefix(txt, "v=DMARC1") {
			health.DMARC = RecordStatus{Valid: true, Value: txt}
			break
		}
	}

	mxs, err := s.resolver.LookupMX(ctx, domain)
	if err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("MX lookup for %s failed: %w", domain, err)
	}
	if len(mxs) > 0 {
		health.MX = RecordStatus{Valid: true, Value: mxs[0].Host}
	}

	return health, nil
}

func isNotFound(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}

// CachedDomainHealthService wraps another DomainHealthService with a redis
// cache so repeated qualification checks do not hammer DNS
type CachedDomainHealthService struct {
	inner  DomainHealthService
	rc     *redis.Client
	prefix string
	ttl    time.Duration
}

// NewCachedDomainHealthService creates a caching wrapper around inner
func NewCachedDomainHealthService(inner DomainHealthService, rc *redis.Client, prefix string, ttl time.Duration) DomainHealthService {
	return &CachedDomainHealthService{
		inner:  inner,
		rc:     rc,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *CachedDomainHealthService) Check(ctx context.Context, domain string) (*DomainHealth, error) {
	key := s.prefix + ":domain_health:" + domain

	if s.rc != nil {
		raw, err := s.rc.Get(ctx, key).Result()
		if err == nil {
			var cached DomainHealth
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				return &cached, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			log.Printf("domain health cache read failed for %s: %v", domain, err)
		}
	}

	health, err := s.inner.Check(ctx, domain)
	if err != nil {
		return nil, err
	}

	if s.rc != nil {
		if raw, err := json.Marshal(health); err == nil {
			if err := s.rc.Set(ctx, key, raw, s.ttl).Err(); err != nil {
				log.Printf("domain health cache write failed for %s: %v", domain, err)
			}
		}
	}

	return health, nil
}

// MockDomainHealthService is a mock implementation for testing
type MockDomainHealthService struct {
	mu      sync.Mutex
	results map[string]*DomainHealth
	err     error
}

// NewMockDomainHealthService creates a new mock domain health service
func NewMockDomainHealthService() *MockDomainHealthService {
	return &MockDomainHealthService{results: make(map[string]*DomainHealth)}
}

// SetResult fixes the health returned for a domain
func (s *MockDomainHealthService) SetResult(domain string, health *DomainHealth) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[domain] = health
}

// SetError makes every subsequent Check fail with err
func (s *MockDomainHealthService) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *MockDomainHealthService) Check(ctx context.Context, domain string) (*DomainHealth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if health, ok := s.results[domain]; ok {
		return health, nil
	}
	// Unknown domains look fully healthy to keep test setup small.
	return &DomainHealth{
		SPF:   RecordStatus{Valid: true},
		DKIM:  RecordStatus{Valid: true},
		DMARC: RecordStatus{Valid: true},
		MX:    RecordStatus{Valid: true},
	}, nil
}
