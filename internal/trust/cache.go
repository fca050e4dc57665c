// Package trust decides whether an email sender is a known supplier contact.
// The vendor directory is expensive to enumerate, so verdicts are served from
// an in-memory cache with a TTL; a stale cache is rebuilt synchronously by
// exactly one caller while concurrent callers wait and reuse the result.
package trust

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/erp"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/models"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/repository"
)

// ErrNoDirectory indicates the cache has never been built and the vendor
// directory could not be reached, so no verdict can be given.
var ErrNoDirectory = errors.New("trust: vendor directory unavailable and no cached data")

// freeMailDomains are never domain-matched. A personal address must be an
// exact directory entry to be trusted.
var freeMailDomains = map[string]bool{
	"gmail.com":      true,
	"googlemail.com": true,
	"yahoo.com":      true,
	"hotmail.com":    true,
	"outlook.com":    true,
	"live.com":       true,
	"msn.com":        true,
	"aol.com":        true,
	"icloud.com":     true,
	"me.com":         true,
	"proton.me":      true,
	"protonmail.com": true,
	"gmx.com":        true,
	"mail.com":       true,
}

// Verdict is the outcome of a sender trust check
type Verdict struct {
	Trusted    bool
	MatchKind  string // models.TrustMatchExact, TrustMatchDomain or TrustMatchNone
	VendorID   string
	VendorName string
}

// Verifier answers sender trust checks
type Verifier interface {
	Verify(ctx context.Context, senderEmail string) (Verdict, error)
}

// vendorRef is what the cache stores per address or domain
type vendorRef struct {
	VendorID   string `json:"vendor_id"`
	VendorName string `json:"vendor_name"`
}

// snapshotPayload is the JSON shape persisted between restarts
type snapshotPayload struct {
	Exact   map[string]vendorRef `json:"exact"`
	Domains map[string]vendorRef `json:"domains"`
}

// Config holds cache settings
type Config struct {
	TTL         time.Duration
	DomainMatch bool
}

// Cache implements Verifier over the ERP vendor directory
type Cache struct {
	config    Config
	directory erp.Directory
	snapshots repository.TrustSnapshotRepository
	logger    *slog.Logger

	mu      sync.RWMutex
	exact   map[string]vendorRef
	domains map[string]vendorRef
	builtAt time.Time

	// rebuildMu serializes rebuilds; waiters re-check freshness under the
	// lock so only one directory enumeration runs per expiry
	rebuildMu sync.Mutex
}

// NewCache creates a sender trust cache. The snapshot repository may be nil,
// in which case the cache starts cold and nothing is persisted.
func NewCache(config Config, directory erp.Directory, snapshots repository.TrustSnapshotRepository, logger *slog.Logger) *Cache {
	if config.TTL == 0 {
		config.TTL = time.Hour
	}
	return &Cache{
		config:    config,
		directory: directory,
		snapshots: snapshots,
		logger:    logger,
	}
}

// Load restores the cache from a persisted snapshot when one exists and is
// younger than the TTL. Called once at startup; errors are not fatal.
func (c *Cache) Load(ctx context.Context) error {
	if c.snapshots == nil {
		return nil
	}
	snapshot, err := c.snapshots.Get(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load trust snapshot: %w", err)
	}
	if snapshot.Expired() {
		return nil
	}

	var payload snapshotPayload
	if err := json.Unmarshal([]byte(snapshot.Payload), &payload); err != nil {
		return fmt.Errorf("failed to decode trust snapshot: %w", err)
	}

	c.mu.Lock()
	c.exact = payload.Exact
	c.domains = payload.Domains
	c.builtAt = snapshot.BuiltAt
	c.mu.Unlock()

	c.logger.Info("trust cache restored from snapshot",
		slog.Int("exact_entries", len(payload.Exact)),
		slog.Int("domain_entries", len(payload.Domains)),
		slog.Time("built_at", snapshot.BuiltAt),
	)
	return nil
}

// Verify checks the sender against the vendor directory. Lookup is
// case-insensitive; an exact address match wins over a domain match, and
// domain matching is skipped for free-mail providers.
func (c *Cache) Verify(ctx context.Context, senderEmail string) (Verdict, error) {
	email := strings.ToLower(strings.TrimSpace(senderEmail))

	if err := c.ensureFresh(ctx); err != nil {
		return Verdict{MatchKind: models.TrustMatchNone}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if ref, ok := c.exact[email]; ok {
		return Verdict{Trusted: true, MatchKind: models.TrustMatchExact, VendorID: ref.VendorID, VendorName: ref.VendorName}, nil
	}

	if c.config.DomainMatch {
		if domain := emailDomain(email); domain != "" && !freeMailDomains[domain] {
			if ref, ok := c.domains[domain]; ok {
				return Verdict{Trusted: true, MatchKind: models.TrustMatchDomain, VendorID: ref.VendorID, VendorName: ref.VendorName}, nil
			}
		}
	}

	return Verdict{MatchKind: models.TrustMatchNone}, nil
}

// BuiltAt returns when the current cache contents were built
func (c *Cache) BuiltAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.builtAt
}

// Entries returns the number of exact and domain entries currently cached
func (c *Cache) Entries() (int, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.exact), len(c.domains)
}

// Invalidate forces the next Verify to rebuild
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.builtAt = time.Time{}
	c.mu.Unlock()
}

// ensureFresh rebuilds the cache when it is stale. Exactly one goroutine
// performs the rebuild; others block on rebuildMu and find a fresh cache
// when they acquire it. A failed rebuild keeps serving the previous data
// unless there is none.
func (c *Cache) ensureFresh(ctx context.Context) error {
	if c.fresh() {
		return nil
	}

	c.rebuildMu.Lock()
	defer c.rebuildMu.Unlock()

	// Another caller may have rebuilt while we waited
	if c.fresh() {
		return nil
	}

	contacts, err := c.directory.ListVendorContacts(ctx)
	if err != nil {
		c.mu.RLock()
		hasData := c.exact != nil
		c.mu.RUnlock()
		if !hasData {
			return fmt.Errorf("%w: %v", ErrNoDirectory, err)
		}
		c.logger.Warn("trust cache rebuild failed, serving stale entries",
			slog.String("error", err.Error()),
			slog.Time("built_at", c.BuiltAt()),
		)
		return nil
	}

	exact, domains := index(contacts)
	builtAt := time.Now()

	c.mu.Lock()
	c.exact = exact
	c.domains = domains
	c.builtAt = builtAt
	c.mu.Unlock()

	c.logger.Info("trust cache rebuilt",
		slog.Int("contacts", len(contacts)),
		slog.Int("exact_entries", len(exact)),
		slog.Int("domain_entries", len(domains)),
	)

	c.persist(ctx, exact, domains, builtAt)
	return nil
}

// fresh reports whether the cache holds data younger than the TTL
func (c *Cache) fresh() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.exact != nil && time.Since(c.builtAt) < c.config.TTL
}

// persist writes the rebuilt cache to the snapshot store. Failures are
// logged and ignored: the snapshot is an optimization, not a requirement.
func (c *Cache) persist(ctx context.Context, exact, domains map[string]vendorRef, builtAt time.Time) {
	if c.snapshots == nil {
		return
	}
	raw, err := json.Marshal(snapshotPayload{Exact: exact, Domains: domains})
	if err != nil {
		c.logger.Warn("failed to encode trust snapshot", slog.String("error", err.Error()))
		return
	}
	snapshot := &models.TrustSnapshot{
		BuiltAt:    builtAt,
		TTLSeconds: int(c.config.TTL / time.Second),
		Payload:    string(raw),
	}
	if err := c.snapshots.Save(ctx, snapshot); err != nil {
		c.logger.Warn("failed to persist trust snapshot", slog.String("error", err.Error()))
	}
}

// index builds the lookup maps from the directory contacts. A domain claimed
// by more than one vendor is ambiguous and excluded from domain matching;
// the exact entries still apply.
func index(contacts []erp.VendorContact) (map[string]vendorRef, map[string]vendorRef) {
	exact := make(map[string]vendorRef, len(contacts))
	domains := make(map[string]vendorRef)
	ambiguous := make(map[string]bool)

	for _, contact := range contacts {
		email := strings.ToLower(strings.TrimSpace(contact.Email))
		if email == "" {
			continue
		}
		ref := vendorRef{VendorID: contact.VendorID, VendorName: contact.VendorName}
		exact[email] = ref

		domain := emailDomain(email)
		if domain == "" || freeMailDomains[domain] || ambiguous[domain] {
			continue
		}
		if existing, ok := domains[domain]; ok && existing.VendorID != ref.VendorID {
			delete(domains, domain)
			ambiguous[domain] = true
			continue
		}
		domains[domain] = ref
	}

	return exact, domains
}

// emailDomain returns the part after the last @, lowercased
func emailDomain(email string) string {
	idx := strings.LastIndex(email, "@")
	if idx < 0 || idx == len(email)-1 {
		return ""
	}
	return email[idx+1:]
}
