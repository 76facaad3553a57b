// internal/feeds/exporter.go
package feeds

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/marketsync/internal/marketplace"
	"github.com/javajoker/marketsync/internal/models"
	"github.com/javajoker/marketsync/internal/store"
)

const DefaultBatchSize = 500

// Exporter submits pending feed requests, one document per account, feed type
// and marketplace. Runs are serialized.
type Exporter struct {
	store     store.FeedStore
	adapter   marketplace.Adapter
	archiver  Archiver
	batchSize int
	now       func() time.Time

	mu sync.Mutex
	// unrecorded maps requests already submitted under a feed id whose
	// launch could not be stored. They are never submitted again.
	unrecorded map[uuid.UUID]launch
}

type launch struct {
	feedID string
	at     time.Time
}

// NewExporter returns an exporter. archiver may be nil.
func NewExporter(st store.FeedStore, adapter marketplace.Adapter, archiver Archiver, batchSize int) *Exporter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Exporter{
		store:     st,
		adapter:   adapter,
		archiver:  archiver,
		batchSize:  batchSize,
		now:        time.Now,
		unrecorded: make(map[uuid.UUID]launch),
	}
}

type groupKey struct {
	account     uuid.UUID
	feedType    models.FeedType
	marketplace string
}

type group struct {
	key      groupKey
	requests []models.FeedRequest
}

// groupRequests keeps groups in the order their first request was queued.
func groupRequests(requests []models.FeedRequest) []*group {
	var groups []*group
	byKey := make(map[groupKey]*group)
	for _, req := range requests {
		k := groupKey{account: req.AccountID, feedType: req.Type, marketplace: req.MarketplaceCode}
		g, ok := byKey[k]
		if !ok {
			g = &group{key: k}
			byKey[k] = g
			groups = append(groups, g)
		}
		g.requests = append(g.requests, req)
	}
	return groups
}

// ExportPending submits every pending group. A group whose submission fails
// stays pending and the other groups still go out; the errors are joined.
func (e *Exporter) ExportPending(ctx context.Context) ([]Submission, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	if err := e.recordLaunches(ctx); err != nil {
		errs = append(errs, err)
	}

	loaded, err := e.store.PendingFeedRequests(ctx, e.batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending feed requests: %w", err)
	}
	pending := loaded[:0]
	for _, req := range loaded {
		if _, ok := e.unrecorded[req.ID]; !ok {
			pending = append(pending, req)
		}
	}

	var out []Submission
	for _, g := range groupRequests(pending) {
		sub, err := e.export(ctx, g)
		if err != nil {
			sub.Error = err.Error()
			errs = append(errs, err)
			logrus.WithError(err).WithFields(logrus.Fields{
				"account_id":  g.key.account,
				"feed_type":   g.key.feedType,
				"marketplace": g.key.marketplace,
			}).Error("Feed export failed")
		}
		out = append(out, sub)
	}
	return out, errors.Join(errs...)
}

func (e *Exporter) export(ctx context.Context, g *group) (Submission, error) {
	sub := Submission{
		AccountID:       g.key.account.String(),
		Type:            g.key.feedType,
		MarketplaceCode: g.key.marketplace,
		Requests:        len(g.requests),
		SubmittedAt:     e.now(),
	}

	doc, err := BuildDocument(g.key.feedType, g.requests)
	if err != nil {
		return sub, err
	}
	feedID, err := e.adapter.SubmitFeed(ctx, g.key.feedType, g.key.marketplace, doc)
	if err != nil {
		return sub, fmt.Errorf("failed to submit %s feed: %w", g.key.feedType, err)
	}
	sub.FeedID = feedID

	ids := make([]uuid.UUID, len(g.requests))
	for i, req := range g.requests {
		ids[i] = req.ID
	}
	if err := e.store.MarkFeedRequestsLaunched(ctx, ids, feedID, sub.SubmittedAt); err != nil {
		for _, id := range ids {
			e.unrecorded[id] = launch{feedID: feedID, at: sub.SubmittedAt}
		}
		logrus.WithError(err).WithFields(logrus.Fields{
			"feed_id":     feedID,
			"request_ids": ids,
		}).Error("Feed submitted but its launch was not stored")
		return sub, fmt.Errorf("failed to mark feed %s launched: %w", feedID, err)
	}

	if e.archiver != nil {
		key, err := e.archiver.Archive(ctx, sub, doc)
		if err != nil {
			logrus.WithError(err).WithField("feed_id", feedID).Warn("Failed to archive feed document")
		}
		sub.ArchiveKey = key
	}

	logrus.WithFields(logrus.Fields{
		"feed_id":     feedID,
		"feed_type":   g.key.feedType,
		"marketplace": g.key.marketplace,
		"requests":    len(g.requests),
	}).Info("Feed submitted")
	return sub, nil
}

// recordLaunches retries storing launches of feeds that were submitted but
// not marked launched.
func (e *Exporter) recordLaunches(ctx context.Context) error {
	byFeed := make(map[string][]uuid.UUID)
	at := make(map[string]time.Time)
	for id, l := range e.unrecorded {
		byFeed[l.feedID] = append(byFeed[l.feedID], id)
		at[l.feedID] = l.at
	}

	var errs []error
	for feedID, ids := range byFeed {
		if err := e.store.MarkFeedRequestsLaunched(ctx, ids, feedID, at[feedID]); err != nil {
			errs = append(errs, fmt.Errorf("failed to mark feed %s launched: %w", feedID, err))
			continue
		}
		for _, id := range ids {
			delete(e.unrecorded, id)
		}
		logrus.WithField("feed_id", feedID).Info("Stored launch of previously submitted feed")
	}
	return errors.Join(errs...)
}
