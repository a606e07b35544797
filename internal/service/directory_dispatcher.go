package service

import (
	"context"
	"errors"
	"sync"

	"github.com/dtroode/keyhaven-identity/internal/logger"
	"github.com/dtroode/keyhaven-identity/internal/model"
)

// DirectoryDispatcher sits between directory providers and the reconciler.
// Providers deliver events at least once with no ordering guarantee; the
// dispatcher routes each event to a per-organization queue drained by a
// single goroutine, so two events for the same organization never race.
// Delivery is fire-and-forget for the provider except group update/delete,
// which fail synchronously as unsupported.
type DirectoryDispatcher struct {
	reconciler model.DirectorySubscriber
	events     chan model.DirectoryEvent
	buffer     int
	logger     *logger.Logger

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ model.DirectorySubscriber = (*DirectoryDispatcher)(nil)

func NewDirectoryDispatcher(reconciler model.DirectorySubscriber, buffer int, logger *logger.Logger) *DirectoryDispatcher {
	if buffer <= 0 {
		buffer = 1
	}
	d := &DirectoryDispatcher{
		reconciler: reconciler,
		events:     make(chan model.DirectoryEvent, buffer),
		buffer:     buffer,
		logger:     logger,
		done:       make(chan struct{}),
	}

	d.wg.Add(1)
	go d.route()

	return d
}

// route fans events out to per-organization queues, creating workers
// lazily. Only this goroutine touches the queue map.
func (d *DirectoryDispatcher) route() {
	defer d.wg.Done()

	queues := make(map[string]chan model.DirectoryEvent)
	var workers sync.WaitGroup

	dispatch := func(event model.DirectoryEvent) {
		queue, ok := queues[event.OrgID]
		if !ok {
			queue = make(chan model.DirectoryEvent, d.buffer)
			queues[event.OrgID] = queue
			workers.Add(1)
			go d.drain(&workers, queue)
		}
		queue <- event
	}

	for {
		select {
		case event := <-d.events:
			dispatch(event)
		case <-d.done:
			for {
				select {
				case event := <-d.events:
					dispatch(event)
				default:
					for _, queue := range queues {
						close(queue)
					}
					workers.Wait()
					return
				}
			}
		}
	}
}

// drain applies one organization's events in arrival order.
func (d *DirectoryDispatcher) drain(workers *sync.WaitGroup, queue <-chan model.DirectoryEvent) {
	defer workers.Done()

	for event := range queue {
		if err := d.apply(event); err != nil {
			// the provider is long gone; log and move on
			d.logger.Error("Directory dispatcher: event failed",
				"kind", string(event.Kind),
				"org_id", event.OrgID,
				"error", err.Error())
		}
	}
}

func (d *DirectoryDispatcher) apply(event model.DirectoryEvent) error {
	ctx := context.Background()
	switch event.Kind {
	case model.DirectoryUserCreated:
		return d.reconciler.UserCreated(ctx, event.User, event.OrgID)
	case model.DirectoryUserUpdated:
		return d.reconciler.UserUpdated(ctx, event.User, event.OrgID, event.UserID)
	case model.DirectoryUserDeleted:
		return d.reconciler.UserDeleted(ctx, event.User, event.OrgID, event.UserID)
	case model.DirectoryGroupCreated:
		return d.reconciler.GroupCreated(ctx, event.Group, event.OrgID)
	default:
		return errors.New("unroutable directory event")
	}
}

func (d *DirectoryDispatcher) enqueue(event model.DirectoryEvent) {
	select {
	case d.events <- event:
	case <-d.done:
	}
}

func (d *DirectoryDispatcher) UserCreated(_ context.Context, user model.DirectoryUser, orgID string) error {
	d.enqueue(model.DirectoryEvent{Kind: model.DirectoryUserCreated, OrgID: orgID, User: user})
	return nil
}

func (d *DirectoryDispatcher) UserUpdated(_ context.Context, user model.DirectoryUser, orgID, userID string) error {
	d.enqueue(model.DirectoryEvent{Kind: model.DirectoryUserUpdated, OrgID: orgID, User: user, UserID: userID})
	return nil
}

func (d *DirectoryDispatcher) UserDeleted(_ context.Context, user model.DirectoryUser, orgID, userID string) error {
	d.enqueue(model.DirectoryEvent{Kind: model.DirectoryUserDeleted, OrgID: orgID, User: user, UserID: userID})
	return nil
}

func (d *DirectoryDispatcher) GroupCreated(_ context.Context, group model.DirectoryGroup, orgID string) error {
	d.enqueue(model.DirectoryEvent{Kind: model.DirectoryGroupCreated, OrgID: orgID, Group: group})
	return nil
}

// GroupUpdated is not supported; the failure surfaces to the provider
// instead of entering the pipeline.
func (d *DirectoryDispatcher) GroupUpdated(ctx context.Context, group model.DirectoryGroup, orgID string) error {
	return d.reconciler.GroupUpdated(ctx, group, orgID)
}

// GroupDeleted is not supported, same as GroupUpdated.
func (d *DirectoryDispatcher) GroupDeleted(ctx context.Context, group model.DirectoryGroup, orgID string) error {
	return d.reconciler.GroupDeleted(ctx, group, orgID)
}

// Close drains buffered events and stops the workers.
func (d *DirectoryDispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
		d.wg.Wait()
	})
}
