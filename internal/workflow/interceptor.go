package workflow

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/temporal"

	"github.com/edvin/botplane/internal/core"
)

// ActivityErrorInterceptor tags activity failures with the activity name as
// their error type and stops retries for missing rows, which a retry cannot fix.
type ActivityErrorInterceptor struct {
	interceptor.WorkerInterceptorBase
}

func (e *ActivityErrorInterceptor) InterceptActivity(
	ctx context.Context,
	next interceptor.ActivityInboundInterceptor,
) interceptor.ActivityInboundInterceptor {
	return &activityErrorInbound{next: next}
}

type activityErrorInbound struct {
	interceptor.ActivityInboundInterceptorBase
	next interceptor.ActivityInboundInterceptor
}

func (a *activityErrorInbound) Init(outbound interceptor.ActivityOutboundInterceptor) error {
	return a.next.Init(outbound)
}

func (a *activityErrorInbound) ExecuteActivity(
	ctx context.Context,
	in *interceptor.ExecuteActivityInput,
) (interface{}, error) {
	result, err := a.next.ExecuteActivity(ctx, in)
	if err == nil {
		return result, nil
	}
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.Type() != "" {
		return result, err
	}
	name := activity.GetInfo(ctx).ActivityType.Name
	if errors.Is(err, core.ErrNotFound) {
		return result, temporal.NewNonRetryableApplicationError(err.Error(), name, err)
	}
	return result, temporal.NewApplicationError(err.Error(), name, err)
}
