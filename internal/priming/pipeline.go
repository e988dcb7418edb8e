// Package priming fills the local cache for offline use: recent messages of
// the configured folders with their bodies, and the address book.
package priming

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/merge"
	"github.com/brandon/mailsync/pkg/types"
)

const (
	DefaultBatchSize             = 6
	DefaultQuotaThresholdPercent = 25
	DefaultWindowDays            = 30
)

// SearchQuery asks the server for the messages of a folder newer than Since
type SearchQuery struct {
	Folder string
	Since  time.Time
	Limit  int
}

// Fetcher reads from the mail server, bypassing the cache
type Fetcher interface {
	Search(ctx context.Context, q SearchQuery) (*types.SearchResult, error)
	GetMessage(ctx context.Context, id string) (*types.MailItem, error)
	GetContacts(ctx context.Context, folder string) ([]types.Contact, error)
}

// Quota reports how much local storage the cache uses
type Quota interface {
	CurrentUsedSize(ctx context.Context) (int64, error)
	MaxSize() int64
}

// Flusher persists what changed in the store
type Flusher interface {
	Flush(ctx context.Context, store *cache.Store) error
}

// Config holds pipeline settings
type Config struct {
	BatchSize             int
	QuotaThresholdPercent float64
	// Windows overrides the number of days primed per folder name
	Windows        map[string]int
	Folders        []string
	ContactsFolder string
}

// Report describes one priming run
type Report struct {
	Folder         string
	Days           int
	Listed         int
	Skipped        int
	Fetched        int
	Failed         int
	Batches        int
	UsedBytes      int64
	StoppedByQuota bool
}

// Pipeline primes the cache from a Fetcher
type Pipeline struct {
	store   *cache.Store
	fetcher Fetcher
	quota   Quota
	flusher Flusher
	cfg     Config
	logger  *logrus.Logger
	now     func() time.Time
}

// Option customizes a Pipeline
type Option func(*Pipeline)

// WithFlusher persists the store after each batch so the quota reflects it
func WithFlusher(f Flusher) Option {
	return func(p *Pipeline) { p.flusher = f }
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a pipeline writing into store
func NewPipeline(store *cache.Store, fetcher Fetcher, quota Quota, cfg Config, logger *logrus.Logger, opts ...Option) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.QuotaThresholdPercent <= 0 {
		cfg.QuotaThresholdPercent = DefaultQuotaThresholdPercent
	}
	p := &Pipeline{
		store:   store,
		fetcher: fetcher,
		quota:   quota,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DefaultWindow returns the number of days primed for a folder when the
// caller does not say
func DefaultWindow(folder string) int {
	switch strings.ToLower(strings.TrimPrefix(folder, "/")) {
	case "inbox":
		return 30
	case "sent":
		return 14
	case "drafts", "outbox", "trash", "junk", "spam":
		return 7
	}
	return DefaultWindowDays
}

func (p *Pipeline) window(folder string, numDays int) int {
	if numDays > 0 {
		return numDays
	}
	for name, days := range p.cfg.Windows {
		if strings.EqualFold(name, folder) && days > 0 {
			return days
		}
	}
	return DefaultWindow(folder)
}

// PrimeMailboxCache fetches the messages of folder newer than numDays days,
// merges them into the folder's view and then fetches their bodies in
// sequential batches. Once storage use passes the quota threshold after a
// batch, the remaining batches are skipped; that is not an error.
func (p *Pipeline) PrimeMailboxCache(ctx context.Context, folder string, numDays int) (Report, error) {
	report := Report{Folder: folder, Days: p.window(folder, numDays)}
	since := p.now().AddDate(0, 0, -report.Days)

	result, err := p.fetcher.Search(ctx, SearchQuery{Folder: folder, Since: since})
	if err != nil {
		return report, fmt.Errorf("failed to search %s: %w", folder, err)
	}
	if result == nil {
		result = &types.SearchResult{}
	}
	report.Listed = len(result.Messages)

	key := cache.FolderViewKey(folder, types.ResultMessages).String()
	prev, _ := p.store.ReadEntryByKey(key)
	p.store.WriteEntryByKey(key, merge.MergeSearchResults(prev, result))
	for i := range result.Messages {
		p.store.WriteItem(&result.Messages[i])
	}

	var ids []string
	for _, m := range result.Messages {
		if p.store.HasDetail(m.ID) {
			report.Skipped++
			continue
		}
		ids = append(ids, m.ID)
	}

	for start := 0; start < len(ids); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(ids) {
			end = len(ids)
		}
		fetched, failed, err := p.fetchBatch(ctx, ids[start:end])
		if err != nil {
			return report, err
		}
		for _, m := range fetched {
			p.store.WriteDetail(m)
		}
		report.Batches++
		report.Fetched += len(fetched)
		report.Failed += failed

		stop, err := p.overQuota(ctx, &report)
		if err != nil {
			return report, err
		}
		if stop {
			report.StoppedByQuota = true
			p.logger.WithFields(logrus.Fields{
				"folder":    folder,
				"batches":   report.Batches,
				"remaining": len(ids) - end,
				"used":      humanize.Bytes(uint64(report.UsedBytes)),
			}).Info("Storage quota reached, stopping priming")
			break
		}
	}

	p.logger.WithFields(logrus.Fields{
		"folder":  folder,
		"days":    report.Days,
		"listed":  report.Listed,
		"fetched": report.Fetched,
		"skipped": report.Skipped,
		"failed":  report.Failed,
	}).Info("Primed folder")
	return report, nil
}

// fetchBatch fetches ids concurrently. Single failures are counted and
// logged; only cancellation of ctx aborts the batch.
func (p *Pipeline) fetchBatch(ctx context.Context, ids []string) ([]*types.MailItem, int, error) {
	g, gctx := errgroup.WithContext(ctx)
	results := make([]*types.MailItem, len(ids))
	var mu sync.Mutex
	failed := 0
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			m, err := p.fetcher.GetMessage(gctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.logger.WithError(err).WithField("message_id", id).Warn("Failed to fetch message")
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			results[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, failed, err
	}

	fetched := make([]*types.MailItem, 0, len(results))
	for _, m := range results {
		if m != nil {
			fetched = append(fetched, m)
		}
	}
	return fetched, failed, nil
}

// overQuota persists pending writes and reports whether storage use is past
// the threshold
func (p *Pipeline) overQuota(ctx context.Context, report *Report) (bool, error) {
	if p.flusher != nil {
		if err := p.flusher.Flush(ctx, p.store); err != nil {
			if errors.Is(err, context.Canceled) {
				return false, err
			}
			p.logger.WithError(err).Warn("Failed to persist primed messages")
		}
	}
	if p.quota == nil {
		return false, nil
	}
	used, err := p.quota.CurrentUsedSize(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read storage usage: %w", err)
	}
	report.UsedBytes = used
	limit := p.quota.MaxSize()
	if limit <= 0 {
		return false, nil
	}
	return float64(used)*100 > p.cfg.QuotaThresholdPercent*float64(limit), nil
}

// PrimeContactsCache fetches the contacts of folder once and merges them into
// the contacts-in-folder, contact picker and all-contacts views
func (p *Pipeline) PrimeContactsCache(ctx context.Context, folder string) (Report, error) {
	report := Report{Folder: folder}

	contacts, err := p.fetcher.GetContacts(ctx, folder)
	if err != nil {
		return report, fmt.Errorf("failed to fetch contacts of %s: %w", folder, err)
	}
	report.Listed = len(contacts)
	report.Fetched = len(contacts)
	p.store.WriteContacts(contacts)

	next := &types.SearchResult{Contacts: contacts, SortBy: cache.SortNameAsc}
	for _, key := range []cache.QueryKey{
		cache.ContactsInFolderKey(folder),
		cache.ContactPickerKey(folder),
		cache.AllContactsKey(),
	} {
		k := key.String()
		prev, _ := p.store.ReadEntryByKey(k)
		p.store.WriteEntryByKey(k, merge.MergeResultLists(prev, next, types.ResultContacts))
	}

	stop, err := p.overQuota(ctx, &report)
	if err != nil {
		return report, err
	}
	report.StoppedByQuota = stop

	p.logger.WithFields(logrus.Fields{
		"folder":   folder,
		"contacts": len(contacts),
	}).Info("Primed contacts")
	return report, nil
}

// PrimeAll primes the configured folders in order, then the contacts. A
// folder that fails is logged and skipped; the run ends early once the
// quota stops a folder.
func (p *Pipeline) PrimeAll(ctx context.Context) ([]Report, error) {
	var reports []Report
	for _, folder := range p.cfg.Folders {
		report, err := p.PrimeMailboxCache(ctx, folder, 0)
		if err != nil {
			if ctx.Err() != nil {
				return reports, ctx.Err()
			}
			p.logger.WithError(err).WithField("folder", folder).Warn("Failed to prime folder")
			continue
		}
		reports = append(reports, report)
		if report.StoppedByQuota {
			return reports, nil
		}
	}
	if p.cfg.ContactsFolder == "" {
		return reports, nil
	}
	report, err := p.PrimeContactsCache(ctx, p.cfg.ContactsFolder)
	if err != nil {
		if ctx.Err() != nil {
			return reports, ctx.Err()
		}
		p.logger.WithError(err).Warn("Failed to prime contacts")
		return reports, nil
	}
	return append(reports, report), nil
}
