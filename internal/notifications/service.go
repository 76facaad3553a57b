// internal/notifications/service.go

// Package notifications receives offer-change notifications, stores every
// delivery as is and queues its reconciliation.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/marketsync/internal/jobs"
	"github.com/javajoker/marketsync/internal/models"
	"github.com/javajoker/marketsync/internal/store"
)

// Notifications are processed ahead of routine work.
const processPriority = 8

type Enqueuer interface {
	Enqueue(ctx context.Context, spec jobs.Spec) (*models.Job, error)
}

type Service struct {
	store store.OfferStore
	queue Enqueuer
}

func NewService(st store.OfferStore, queue Enqueuer) *Service {
	return &Service{store: st, queue: queue}
}

// Ingest stores one delivery and queues its processing. Duplicate deliveries
// are stored too; reconciliation collapses them. An empty notificationID gets
// a generated one.
func (s *Service) Ingest(ctx context.Context, accountID uuid.UUID, notificationID, body string) (*models.OfferNotification, error) {
	if strings.TrimSpace(body) == "" {
		return nil, errors.New("empty notification body")
	}
	if notificationID == "" {
		notificationID = uuid.NewString()
	}

	n := &models.OfferNotification{
		AccountID:      accountID,
		NotificationID: notificationID,
		Body:           body,
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to store notification: %w", err)
	}

	if _, err := s.queue.Enqueue(ctx, jobs.Spec{
		Description: jobs.Description(jobs.MethodProcessNotification, n.ID),
		Method:      jobs.MethodProcessNotification,
		Args:        models.JSONB{"notification_id": n.ID.String()},
		Priority:    processPriority,
	}); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"notification_id": notificationID,
		"account_id":      accountID,
	}).Debug("Offer notification stored")
	return n, nil
}
