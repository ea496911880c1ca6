package redub

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"redubstream/internal/domain"
	"redubstream/internal/engine"
)

func dubInputName(index int) string {
	return fmt.Sprintf("dub_%04d.src", index)
}

func dubAudioName(index int) string {
	return fmt.Sprintf("dub_%04d.wav", index)
}

// merge is one MergeAndReplace execution over a snapshot of the dub slots.
type merge struct {
	svc    *Service
	source domain.Source
	dubs   []domain.DubSegment
	logger *slog.Logger
	start  time.Time

	eng     engine.Engine
	created map[string]struct{}
}

func (m *merge) run(ctx context.Context) (domain.FinalArtifacts, error) {
	release, err := m.svc.handle.Acquire(ctx)
	if err != nil {
		return domain.FinalArtifacts{}, m.fail(domain.MergeStepExtraction, err)
	}
	defer release()

	if _, err := m.svc.handle.Ensure(ctx); err != nil {
		return domain.FinalArtifacts{}, m.fail(domain.MergeStepExtraction, err)
	}
	m.eng = m.svc.handle.Engine()
	m.created = make(map[string]struct{})
	defer m.cleanup(ctx)

	m.publishUnits(domain.PhaseMerging, 0, "extracting dubbed audio", 0)
	audioNames, err := m.extract(ctx)
	if err != nil {
		return domain.FinalArtifacts{}, m.fail(domain.MergeStepExtraction, err)
	}

	m.publish(domain.PhaseMerging, 80, "concatenating dubbed audio")
	if err := m.concat(ctx, audioNames); err != nil {
		return domain.FinalArtifacts{}, m.fail(domain.MergeStepConcatenation, err)
	}

	m.publish(domain.PhaseMerging, 90, "encoding merged audio")
	merged, err := m.encode(ctx)
	if err != nil {
		return domain.FinalArtifacts{}, m.fail(domain.MergeStepConcatenation, err)
	}

	m.svc.setPhase(domain.PhaseRemuxing)
	m.publish(domain.PhaseRemuxing, 0, "remuxing original video with new audio")
	video, err := m.remux(ctx)
	if err != nil {
		return domain.FinalArtifacts{}, m.fail(domain.MergeStepRemux, err)
	}

	m.logger.Info("redub merge complete",
		slog.Int("mergedAudioBytes", len(merged)),
		slog.Int("finalVideoBytes", len(video)),
		slog.Duration("elapsed", time.Since(m.start)),
	)
	return domain.FinalArtifacts{MergedAudio: merged, FinalVideo: video}, nil
}

// extract runs strictly in index order, one invocation at a time.
func (m *merge) extract(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(m.dubs))
	for i, dub := range m.dubs {
		input := dubInputName(dub.Index)
		output := dubAudioName(dub.Index)

		if err := m.write(ctx, input, dub.Replacement); err != nil {
			return nil, err
		}
		args := engine.BuildExtractAudioArgs(input, output, dub.Segment.Duration(), m.svc.format)
		if err := m.exec(ctx, "extract", args, output); err != nil {
			return nil, fmt.Errorf("segment %d: %w", dub.Index, err)
		}
		m.remove(ctx, input)
		names = append(names, output)

		progress := 80 * float64(i+1) / float64(len(m.dubs))
		m.publishUnits(domain.PhaseMerging, progress, fmt.Sprintf("extracted audio %d of %d", i+1, len(m.dubs)), i+1)
	}
	return names, nil
}

func (m *merge) concat(ctx context.Context, audioNames []string) error {
	if err := m.write(ctx, concatManifest, engine.ConcatManifest(audioNames)); err != nil {
		return err
	}
	if err := m.exec(ctx, "concat", engine.BuildConcatArgs(concatManifest, concatAudio), concatAudio); err != nil {
		return err
	}
	m.remove(ctx, audioNames...)
	m.remove(ctx, concatManifest)
	return nil
}

func (m *merge) encode(ctx context.Context) ([]byte, error) {
	if err := m.exec(ctx, "encode", engine.BuildEncodeAudioArgs(concatAudio, MergedAudioName, m.svc.mergedBitrate), MergedAudioName); err != nil {
		return nil, err
	}
	return m.read(ctx, MergedAudioName)
}

func (m *merge) remux(ctx context.Context) ([]byte, error) {
	original := "original" + m.source.Ext()
	if err := m.write(ctx, original, m.source.Bytes()); err != nil {
		return nil, err
	}
	args := engine.BuildRemuxArgs(original, concatAudio, FinalVideoName, m.svc.remuxBitrate)
	if err := m.exec(ctx, "remux", args, FinalVideoName); err != nil {
		return nil, err
	}
	return m.read(ctx, FinalVideoName)
}

func (m *merge) write(ctx context.Context, name string, data []byte) error {
	m.created[name] = struct{}{}
	if err := m.eng.WriteFile(ctx, name, data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (m *merge) exec(ctx context.Context, op string, args []string, output string) error {
	m.created[output] = struct{}{}
	return engine.Run(ctx, m.eng, op, args)
}

func (m *merge) read(ctx context.Context, name string) ([]byte, error) {
	data, err := m.eng.ReadFile(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("read %s: engine produced an empty output", name)
	}
	return data, nil
}

func (m *merge) remove(ctx context.Context, names ...string) {
	engine.Remove(ctx, m.eng, names...)
	for _, name := range names {
		delete(m.created, name)
	}
}

func (m *merge) cleanup(ctx context.Context) {
	for name := range m.created {
		_ = m.eng.DeleteFile(ctx, name)
	}
	m.created = nil
}

func (m *merge) publish(phase domain.Phase, progress float64, message string) {
	m.publishUnits(phase, progress, message, len(m.dubs))
}

func (m *merge) publishUnits(phase domain.Phase, progress float64, message string, completed int) {
	m.svc.sink.Publish(domain.PipelineStatus{
		Phase:          phase,
		Progress:       progress,
		Message:        message,
		TotalUnits:     len(m.dubs),
		CompletedUnits: completed,
	})
}

func (m *merge) fail(step domain.MergeStep, err error) error {
	merr := &domain.MergeError{Step: step, Err: err}
	m.logger.Error("redub merge failed", slog.String("step", string(step)), slog.String("error", err.Error()))
	m.svc.sink.Publish(domain.PipelineStatus{
		Phase:      domain.PhaseError,
		Message:    merr.Error(),
		TotalUnits: len(m.dubs),
		FailedStep: string(step),
	})
	return merr
}
