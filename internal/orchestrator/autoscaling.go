package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/FairForge/capplanner/internal/loadtest"
)

// autoScalingTest reruns the steepest-ramp scenario and compares the
// replica count before it with the peak during it.
func (o *Orchestrator) autoScalingTest(ctx context.Context) *loadtest.AutoScalingResult {
	def, ok := o.config.Scenarios.Steepest()
	if !ok {
		return &loadtest.AutoScalingResult{Status: loadtest.AutoScalingSkipped, Note: "no scenarios"}
	}
	result := &loadtest.AutoScalingResult{ScenarioID: def.ID}
	log := o.logger.With(zap.String("scenario", def.ID))

	if !o.monitor.Enabled() {
		result.Status = loadtest.AutoScalingSkipped
		result.Note = "resource monitoring is disabled"
		log.Info("skipping auto-scaling check", zap.String("reason", result.Note))
		return result
	}

	initial, err := o.queryReplicas(ctx, func(qctx context.Context) (float64, error) {
		return o.monitor.Replicas(qctx, time.Now())
	})
	if err != nil {
		result.Status = loadtest.AutoScalingFailed
		result.Note = fmt.Sprintf("read initial replicas: %v", err)
		log.Warn("auto-scaling check failed", zap.Error(err))
		return result
	}
	result.InitialReplicas = &initial

	log.Info("starting auto-scaling check", zap.Float64("initial_replicas", initial))
	res := o.execute(ctx, def, o.runner.RunAutoScaling)
	result.Scenario = &res
	if !res.Success {
		log.Warn("auto-scaling scenario failed", zap.String("error", res.Error))
	}

	peak, err := o.queryReplicas(ctx, func(qctx context.Context) (float64, error) {
		return o.monitor.PeakReplicas(qctx, res.StartedAt, res.FinishedAt)
	})
	if err != nil {
		result.Status = loadtest.AutoScalingFailed
		result.Note = fmt.Sprintf("read peak replicas: %v", err)
		log.Warn("auto-scaling check failed", zap.Error(err))
		return result
	}
	result.PeakReplicas = &peak

	if peak > initial {
		result.Status = loadtest.AutoScalingTriggered
	} else {
		result.Status = loadtest.AutoScalingNotTriggered
		result.Note = "replica count did not increase"
	}
	log.Info("auto-scaling check complete",
		zap.String("status", string(result.Status)),
		zap.Float64("initial_replicas", initial),
		zap.Float64("peak_replicas", peak),
	)
	return result
}

func (o *Orchestrator) queryReplicas(ctx context.Context, query func(context.Context) (float64, error)) (float64, error) {
	qctx, cancel := context.WithTimeout(ctx, o.config.ResourceQueryTimeout)
	defer cancel()
	v, err := query(qctx)
	if err != nil {
		o.recorder.RecordResourceQueryFailure()
	}
	return v, err
}
