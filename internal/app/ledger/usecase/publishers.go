package usecase

import (
	"context"
	"errors"

	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/domain"
)

// MultiPublisher 依序發佈到每個 publisher，任一失敗不影響其他
type MultiPublisher []EventPublisher

func (m MultiPublisher) Publish(ctx context.Context, event *domain.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
