package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var simulateThreshold float64

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "基于即时重算推送一次成本变动告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateThreshold < 0 {
			return errors.New("--threshold 不能为负数")
		}
		return getApp().SimulateAlert(cmd.Context(), simulateThreshold)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateThreshold, "threshold", 0, "变动阈值 (百分比, 默认取配置)")
}
