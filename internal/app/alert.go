package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"battery-cost-forecast/internal/alerting"
)

// SimulateAlert 基于一次即时重算推送告警, 忽略冷却期。thresholdPct <= 0 时使用配置阈值。
func (a *App) SimulateAlert(ctx context.Context, thresholdPct float64) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}
	return a.simulateAlert(ctx, notifier, thresholdPct)
}

func (a *App) simulateAlert(ctx context.Context, notifier alerting.Notifier, thresholdPct float64) error {
	if thresholdPct <= 0 {
		thresholdPct = a.Config.Alerting.ThresholdPct
	}
	threshold := decimal.NewFromFloat(thresholdPct)

	res, _, err := a.compute(ctx)
	if err != nil {
		return err
	}

	moves := alerting.DetectMoves(res.Monthly, threshold)
	if len(moves) == 0 {
		fmt.Fprintf(a.Out, "no chemistry moved more than %s%%\n", threshold.StringFixed(2))
		return nil
	}

	note := alerting.Notification{
		RunID:         "simulated-" + uuid.NewString(),
		GeneratedAt:   res.GeneratedAt,
		ThresholdPct:  threshold,
		Moves:         moves,
		FallbackCount: res.FallbackCount(),
		RejectedCount: len(res.Rejected),
		Channels:      a.Config.Alerting.Channels,
		AdditionalMsg: "模拟告警",
	}
	if err := notifier.Notify(ctx, note); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "sent %d moves\n", len(moves))
	return nil
}
