package engine

import (
	"context"

	"github.com/shaiso/flowgraph/internal/domain"
)

// Observer получает события выполнения запуска.
//
// Вызовы синхронные и происходят в горутине запуска,
// поэтому реализации не должны блокироваться надолго.
type Observer interface {
	// NodeStarted вызывается перед первой попыткой узла.
	NodeStarted(ctx context.Context, run *domain.NodeRun)

	// NodeRetrying вызывается после неудачной попытки, если будет следующая.
	NodeRetrying(ctx context.Context, run *domain.NodeRun, err error)

	// NodeFinished вызывается, когда узел достиг финального статуса.
	NodeFinished(ctx context.Context, run *domain.NodeRun)

	// RunFinished вызывается один раз с итоговым результатом запуска.
	RunFinished(ctx context.Context, res *Result)
}

// observers — рассылка событий нескольким наблюдателям.
type observers []Observer

func (o observers) nodeStarted(ctx context.Context, run *domain.NodeRun) {
	for _, obs := range o {
		obs.NodeStarted(ctx, run)
	}
}

func (o observers) nodeRetrying(ctx context.Context, run *domain.NodeRun, err error) {
	for _, obs := range o {
		obs.NodeRetrying(ctx, run, err)
	}
}

func (o observers) nodeFinished(ctx context.Context, run *domain.NodeRun) {
	for _, obs := range o {
		obs.NodeFinished(ctx, run)
	}
}

func (o observers) runFinished(ctx context.Context, res *Result) {
	for _, obs := range o {
		obs.RunFinished(ctx, res)
	}
}
