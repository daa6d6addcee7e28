package runner

import (
	"context"

	"github.com/google/uuid"

	"github.com/shaiso/flowgraph/internal/domain"
	"github.com/shaiso/flowgraph/internal/mq"
)

// RequestPublisher ставит запуск в очередь. Реализация: *mq.Publisher.
type RequestPublisher interface {
	PublishRunRequested(ctx context.Context, payload mq.RunRequestedPayload) error
}

var _ RequestPublisher = (*mq.Publisher)(nil)

// QueueSubmitter отправляет workflow на выполнение воркеру через очередь.
// Возвращаемый ID станет ID запуска в журнале.
type QueueSubmitter struct {
	publisher RequestPublisher
	source    string
}

// NewQueueSubmitter создаёт QueueSubmitter; source попадает в сообщение.
func NewQueueSubmitter(publisher RequestPublisher, source string) *QueueSubmitter {
	return &QueueSubmitter{publisher: publisher, source: source}
}

// Submit публикует run.requested.
func (q *QueueSubmitter) Submit(ctx context.Context, def *domain.WorkflowDefinition, inputs map[string]any) (uuid.UUID, error) {
	id := uuid.New()
	err := q.publisher.PublishRunRequested(ctx, mq.RunRequestedPayload{
		RequestID: id,
		Workflow:  def,
		Inputs:    inputs,
		Source:    q.source,
	})
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}
