// Package worker handles queued captures: it fetches the staged image, runs
// it through the engine and publishes the outcome for the device.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/your-org/visage/internal/identity"
	"github.com/your-org/visage/internal/models"
	"github.com/your-org/visage/internal/observability"
	"github.com/your-org/visage/internal/vision"
)

type Staging interface {
	FetchCapture(ctx context.Context, key string) ([]byte, error)
	DeleteCapture(ctx context.Context, key string) error
}

type Publisher interface {
	PublishResult(ctx context.Context, result models.CaptureResult) error
}

type Processor struct {
	engine    *identity.Engine
	staging   Staging
	publisher Publisher
	now       func() time.Time
}

func NewProcessor(engine *identity.Engine, staging Staging, publisher Publisher) *Processor {
	return &Processor{engine: engine, staging: staging, publisher: publisher, now: time.Now}
}

// Handle processes one capture task. Errors the capture itself caused (bad
// image, wrong dimension, unknown kind) are reported to the device and the
// task is acknowledged. Errors before the engine commits are returned so the
// message is redelivered; nothing after the commit is.
func (p *Processor) Handle(ctx context.Context, task models.CaptureTask) error {
	start := time.Now()

	data, err := p.staging.FetchCapture(ctx, task.ObjectKey)
	if err != nil {
		observability.CapturesProcessed.WithLabelValues(string(task.Kind), "fetch_error").Inc()
		return fmt.Errorf("fetch capture %s: %w", task.CaptureID, err)
	}

	result := models.CaptureResult{CaptureID: task.CaptureID, DeviceID: task.DeviceID, Kind: task.Kind}
	err = p.run(ctx, task, data, &result)
	if err != nil && !rejected(err) {
		observability.CapturesProcessed.WithLabelValues(string(task.Kind), "error").Inc()
		return fmt.Errorf("process capture %s: %w", task.CaptureID, err)
	}
	if err != nil {
		result.Error = err.Error()
	}
	result.ProcessedAt = p.now().UTC()

	// The engine has committed by now, so a redelivery would register or
	// rematch the same capture twice. A lost result is only logged.
	published := true
	if err := p.publisher.PublishResult(ctx, result); err != nil {
		published = false
		slog.Error("publish capture result", "capture_id", task.CaptureID, "device_id", task.DeviceID, "error", err)
	}
	if err := p.staging.DeleteCapture(ctx, task.ObjectKey); err != nil {
		slog.Warn("delete staged capture", "key", task.ObjectKey, "error", err)
	}

	status := "ok"
	switch {
	case !published:
		status = "publish_error"
	case result.Error != "":
		status = "rejected"
	case result.NoFace:
		status = "no_face"
	}
	observability.CapturesProcessed.WithLabelValues(string(task.Kind), status).Inc()
	slog.Info("capture processed",
		"capture_id", task.CaptureID,
		"kind", task.Kind,
		"status", status,
		"recognized", result.Recognized,
		"duration", time.Since(start).String(),
	)
	return nil
}

func (p *Processor) run(ctx context.Context, task models.CaptureTask, data []byte, out *models.CaptureResult) error {
	capture := identity.Capture{Image: data, Filename: task.Filename, Name: task.Name, Context: task.Context}

	switch task.Kind {
	case models.CaptureRegister:
		reg, err := p.engine.Register(ctx, capture)
		if err != nil {
			return err
		}
		fillRegistration(out, reg)
	case models.CaptureRecognize:
		rec, err := p.engine.Recognize(ctx, data)
		if err != nil {
			return err
		}
		fillRecognition(out, rec)
	case models.CaptureMeet:
		enc, err := p.engine.Meet(ctx, capture)
		if err != nil {
			return err
		}
		fillRecognition(out, &enc.Recognition)
		fillRegistration(out, enc.Registration)
	default:
		return fmt.Errorf("%w: %q", errUnknownKind, task.Kind)
	}
	return nil
}

var errUnknownKind = errors.New("unknown capture kind")

func rejected(err error) bool {
	return errors.Is(err, vision.ErrInvalidImage) ||
		errors.Is(err, identity.ErrDimensionMismatch) ||
		errors.Is(err, errUnknownKind)
}

func fillRecognition(out *models.CaptureResult, rec *identity.Recognition) {
	out.NoFace = rec.NoFace
	out.Recognized = rec.Recognized
	out.Distance = rec.Distance
	out.Identity = rec.Identity
}

func fillRegistration(out *models.CaptureResult, reg *identity.Registration) {
	if reg == nil {
		return
	}
	out.NoFace = reg.NoFace
	out.PhotoID = reg.PhotoID
	out.FaceID = reg.FaceID
	out.EmbeddingID = reg.EmbeddingID
	if reg.Identity != nil {
		out.Identity = reg.Identity
	}
}
